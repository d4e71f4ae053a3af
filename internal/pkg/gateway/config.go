package gateway

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMissingConfig marks adapter construction failures caused by incomplete
// signing configuration. No payment URL can ever be built without merchant
// code, hash secret and base URL, so this is fatal at construction time.
var ErrMissingConfig = errors.New("gateway: missing required configuration")

const (
	defaultVersion  = "2.1.0"
	defaultLocale   = "vn"
	defaultCurrCode = "VND"
	defaultCommand  = "pay"
)

// Config holds the merchant-side gateway credentials and protocol defaults.
type Config struct {
	BaseURL    string `validate:"required,url"`
	TmnCode    string `validate:"required"`
	HashSecret string `validate:"required"`
	ReturnURL  string `validate:"required,url"`
	Version    string
	Locale     string
	CurrCode   string
}

func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingConfig, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = defaultVersion
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	if c.CurrCode == "" {
		c.CurrCode = defaultCurrCode
	}
}
