package config

// ConfigBackend abstracts persistent config storage. Keys use dot notation
// ("server.port"); the file backend maps each segment to a TOML table.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
