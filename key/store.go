package key

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"

	"github.com/keyshard/keyshard/fs"
)

// Store abstracts the loading and saving of any cryptographic material used
// by a node. Only a file-based store is implemented for the moment.
type Store interface {
	SaveKeyPair(p *Pair) error
	LoadKeyPair() (*Pair, error)
	SaveRoster(r *Roster) error
	LoadRoster() (*Roster, error)
	SaveShare(s *Share) error
	LoadShare() (*Share, error)
}

// ErrAbsent is returned when the store can't find the requested object.
var ErrAbsent = errors.New("store can't find requested object")

// KeyFolderName is the name of the subfolder holding the long-term key pair.
const KeyFolderName = "key"

const (
	keyFileName      = "node_id"
	privateExtension = ".private"
	publicExtension  = ".public"
	rosterFileName   = "roster.toml"
	shareFileName    = "share.secret"
)

// Tomler represents any struct that can be (un)marshaled into/from TOML.
type Tomler interface {
	TOML() interface{}
	FromTOML(i interface{}) error
	TOMLValue() interface{}
}

type fileStore struct {
	baseFolder     string
	privateKeyFile string
	publicKeyFile  string
	rosterFile     string
	shareFile      string
}

// NewFileStore returns a file-based store rooted at the given folder,
// creating the folder hierarchy if needed.
func NewFileStore(baseFolder string) Store {
	keyFolder := fs.CreateSecureFolder(path.Join(baseFolder, KeyFolderName))
	return &fileStore{
		baseFolder:     baseFolder,
		privateKeyFile: path.Join(keyFolder, keyFileName+privateExtension),
		publicKeyFile:  path.Join(keyFolder, keyFileName+publicExtension),
		rosterFile:     path.Join(baseFolder, rosterFileName),
		shareFile:      path.Join(baseFolder, shareFileName),
	}
}

// SaveKeyPair saves the private key with tight permissions and the public
// identity next to it.
func (f *fileStore) SaveKeyPair(p *Pair) error {
	if err := save(f.privateKeyFile, p, true); err != nil {
		return err
	}
	return save(f.publicKeyFile, p.Public, false)
}

// LoadKeyPair decodes the private key first, then the public identity.
func (f *fileStore) LoadKeyPair() (*Pair, error) {
	p := new(Pair)
	if err := load(f.privateKeyFile, p); err != nil {
		return nil, err
	}
	if err := load(f.publicKeyFile, p.Public); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fileStore) SaveRoster(r *Roster) error {
	return save(f.rosterFile, r, false)
}

func (f *fileStore) LoadRoster() (*Roster, error) {
	r := new(Roster)
	return r, load(f.rosterFile, r)
}

func (f *fileStore) SaveShare(s *Share) error {
	return save(f.shareFile, s, true)
}

func (f *fileStore) LoadShare() (*Share, error) {
	s := new(Share)
	return s, load(f.shareFile, s)
}

func save(filePath string, t Tomler, secure bool) error {
	var fd *os.File
	var err error
	if secure {
		fd, err = fs.CreateSecureFile(filePath)
	} else {
		fd, err = os.Create(filePath)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", filePath, err)
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(t.TOML())
}

func load(filePath string, t Tomler) error {
	if exists, _ := fs.Exists(filePath); !exists {
		return fmt.Errorf("%s: %w", filePath, ErrAbsent)
	}
	tomlValue := t.TOMLValue()
	if _, err := toml.DecodeFile(filePath, tomlValue); err != nil {
		return err
	}
	return t.FromTOML(tomlValue)
}
