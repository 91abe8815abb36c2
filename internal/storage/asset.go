package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-worldstate/internal/game"
)

const assetVersion = 1

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// Names that collide with directories in the storage layout.
var reservedIdentifiers = map[string]bool{
	backupsDirName: true,
	playersDirName: true,
}

type ValidatingSpec interface {
	Validate() error
}

type Identifier string

func (id Identifier) String() string {
	return string(id)
}

// ValidateIdentifier checks that id is safe to use as a world name or
// username in the storage layout.
func ValidateIdentifier(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id must be set")
	}
	if id != strings.TrimSpace(id) {
		return fmt.Errorf("id %q must not have surrounding whitespace", id)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("id %q must contain only letters, digits, spaces, '_' or '-'", id)
	}
	if reservedIdentifiers[strings.ToLower(id)] {
		return fmt.Errorf("id %q is reserved", id)
	}
	return nil
}

// Asset is the durable envelope around every stored record.
type Asset[T ValidatingSpec] struct {
	Version    uint       `json:"version"`
	Identifier Identifier `json:"id"`
	Spec       T          `json:"spec"`
}

func newAsset[T ValidatingSpec](id string, spec T) *Asset[T] {
	return &Asset[T]{
		Version:    assetVersion,
		Identifier: Identifier(id),
		Spec:       spec,
	}
}

func (a *Asset[T]) Id() Identifier {
	return a.Identifier
}

func (a *Asset[T]) Validate() error {
	el := errors.NewErrorList()

	if a.Version == 0 {
		el.Add(fmt.Errorf("version must be set"))
	}

	el.Add(ValidateIdentifier(a.Identifier.String()))

	v := reflect.ValueOf(a.Spec)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		el.Add(fmt.Errorf("spec must be set"))
	} else {
		el.Add(a.Spec.Validate())
	}

	return el.Err()
}

func decodeAsset[T ValidatingSpec](data []byte) (*Asset[T], error) {
	asset := &Asset[T]{}
	if err := json.Unmarshal(data, asset); err != nil {
		return nil, fmt.Errorf("unmarshalling asset: %w", err)
	}
	if err := asset.Validate(); err != nil {
		return nil, fmt.Errorf("validating asset: %w", err)
	}
	return asset, nil
}

// decodeWorld parses a world envelope. When name is non-empty the envelope and
// the world inside it must both carry that name.
func decodeWorld(data []byte, name string) (*game.WorldData, error) {
	asset, err := decodeAsset[*game.WorldData](data)
	if err != nil {
		return nil, err
	}
	if asset.Spec.Name() != asset.Id().String() {
		return nil, fmt.Errorf("world name %q does not match id %q", asset.Spec.Name(), asset.Id())
	}
	if name != "" && asset.Id().String() != name {
		return nil, fmt.Errorf("expected world %q, found %q", name, asset.Id())
	}
	return asset.Spec, nil
}

// playerSpec adapts a player record to the envelope's validation contract.
type playerSpec struct {
	*game.PlayerRecord
}

func (p playerSpec) Validate() error {
	if p.PlayerRecord == nil {
		return fmt.Errorf("player record must be set")
	}
	return nil
}

func (p playerSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.PlayerRecord)
}

func (p *playerSpec) UnmarshalJSON(b []byte) error {
	p.PlayerRecord = &game.PlayerRecord{}
	return json.Unmarshal(b, p.PlayerRecord)
}

func encodePlayer(username string, rec *game.PlayerRecord) ([]byte, error) {
	return json.MarshalIndent(newAsset(username, playerSpec{rec}), "", "  ")
}

func decodePlayer(data []byte, username string) (*game.PlayerRecord, error) {
	asset, err := decodeAsset[playerSpec](data)
	if err != nil {
		return nil, err
	}
	if asset.Id().String() != username {
		return nil, fmt.Errorf("expected player %q, found %q", username, asset.Id())
	}
	rec := asset.Spec.PlayerRecord
	rec.Repair(username)
	return rec, nil
}

func encodeWorld(name string, w *game.WorldData) ([]byte, error) {
	return json.MarshalIndent(newAsset(name, w), "", "  ")
}
