package config

// ConfigBackend abstracts where persisted settings live. The default is a
// flat JSON file under $XDG_CONFIG_HOME; tests substitute an in-memory map.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	Has(key string) bool
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
