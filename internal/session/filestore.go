package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/phuslu/log"
)

// FileStore keeps the session in a single JSON file, written atomically
// through a rename so a crash mid-write cannot corrupt the state.
type FileStore struct {
	path string
	log  log.Logger
}

func NewFileStore(path string, logger log.Logger) *FileStore {
	o := &FileStore{path: path}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "session-file").Str("path", path).Value()
	return o
}

func (f *FileStore) Save(s Session) error {
	d, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	err = os.WriteFile(tmp, d, 0600)
	if err != nil {
		return err
	}
	err = os.Rename(tmp, f.path)
	if err != nil {
		return err
	}
	f.log.Debug().Bool("active", s.Active).Msg("session persisted")
	return nil
}

func (f *FileStore) Load() (Session, error) {
	d, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// first run
			return Session{}, nil
		}
		return Session{}, err
	}
	s := Session{}
	err = json.Unmarshal(d, &s)
	if err != nil {
		f.log.Error().Err(err).Msg("discarding unreadable session file")
		return Session{}, nil
	}
	return s, nil
}

// DefaultPath places the session file under the user state directory.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "locagent", "session.json")
}
