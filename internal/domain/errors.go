package domain

import "fmt"

// ConfigError reports a configured table or column that does not exist in
// the backing store. Hint names the setting the operator should change.
type ConfigError struct {
	Table  string
	Column string
	Hint   string
	Err    error
}

func (e *ConfigError) Error() string {
	target := e.Table
	if e.Column != "" {
		target = e.Table + "." + e.Column
	}
	msg := fmt.Sprintf("configuration error on %s", target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
