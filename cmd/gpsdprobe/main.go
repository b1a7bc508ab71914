package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/phuslu/log"
	"nuha.dev/locagent/internal/gps"
	"nuha.dev/locagent/internal/gps/gpsd"
	"nuha.dev/locagent/internal/location"
)

// quick check that a gpsd instance is reachable and producing fixes

func main() {
	addr := "localhost:2947"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	c := gpsd.NewClient(gpsd.Config{Addr: addr}, log.DefaultLogger)
	if !c.ServiceEnabled() {
		fmt.Println("gpsd not reachable at", addr)
		os.Exit(1)
	}
	err := c.Start(gps.ProfileNavigation, func(s location.Sample) {
		d, _ := s.MarshalCompact()
		fmt.Println(string(d))
	})
	if err != nil {
		panic(err.Error())
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	c.Stop()
}
