// Types shared by all of pakka's subsystems
package paktypes

import (
	"fmt"
	"strings"
)

type StoreType string

const (
	StoreTypeHosted StoreType = "hosted"
	StoreTypeRemote StoreType = "remote"
	StoreTypeGroup  StoreType = "group"
)

func (s StoreType) Valid() bool {
	switch s {
	case StoreTypeHosted, StoreTypeRemote, StoreTypeGroup:
		return true
	default:
		return false
	}
}

// globally unique identifier of a store. comparable, so usable as a map key
type StoreKey struct {
	PackageType string
	Type        StoreType
	Name        string
}

func NewStoreKey(packageType string, typ StoreType, name string) StoreKey {
	return StoreKey{PackageType: packageType, Type: typ, Name: name}
}

// looks like "maven:hosted:build-1"
func (s StoreKey) String() string {
	return s.PackageType + ":" + string(s.Type) + ":" + s.Name
}

func (s StoreKey) IsGroup() bool {
	return s.Type == StoreTypeGroup
}

func (s StoreKey) IsZero() bool {
	return s == StoreKey{}
}

func ParseStoreKey(serialized string) (StoreKey, error) {
	parts := strings.SplitN(serialized, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return StoreKey{}, fmt.Errorf("%w: %q", ErrMalformedStoreKey, serialized)
	}

	typ := StoreType(parts[1])
	if !typ.Valid() {
		return StoreKey{}, fmt.Errorf("%w: %q has unknown type %q", ErrMalformedStoreKey, serialized, parts[1])
	}

	return StoreKey{PackageType: parts[0], Type: typ, Name: parts[2]}, nil
}

func MustParseStoreKey(serialized string) StoreKey {
	key, err := ParseStoreKey(serialized)
	if err != nil {
		panic(err)
	}
	return key
}

// for reading the comma separated provenance lists we keep in store metadata
func ParseStoreKeyList(serialized string) ([]StoreKey, error) {
	keys := []StoreKey{}

	for _, item := range strings.Split(serialized, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		key, err := ParseStoreKey(item)
		if err != nil {
			return keys, err
		}

		keys = append(keys, key)
	}

	return keys, nil
}

func FormatStoreKeyList(keys []StoreKey) string {
	serialized := make([]string, 0, len(keys))
	for _, key := range keys {
		serialized = append(serialized, key.String())
	}

	return strings.Join(serialized, ",")
}

// the JSON form is the string form, so keys in config files & callbacks stay readable
func (s StoreKey) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StoreKey) UnmarshalText(text []byte) error {
	key, err := ParseStoreKey(string(text))
	if err != nil {
		return err
	}

	*s = key
	return nil
}
