package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var backends = map[string]bool{
	"memory": true, "file": true, "sqlite": true, "badger": true, "redis": true, "mongo": true,
}

// Validate reports every problem in cfg at once.
func Validate(cfg Config) error {
	var errs []error

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url: %q is not an http(s) URL", cfg.API.BaseURL))
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout: must not be negative"))
	}
	if cfg.API.RatePerSecond < 0 {
		errs = append(errs, errors.New("api.rate_per_second: must not be negative"))
	}
	if cfg.Identity.Attempts < 1 || cfg.Identity.Attempts > 100 {
		errs = append(errs, fmt.Errorf("identity.attempts: %d out of range 1..100", cfg.Identity.Attempts))
	}
	if cfg.Identity.Delay <= 0 {
		errs = append(errs, errors.New("identity.delay: must be positive"))
	}
	if cfg.Ads.Countdown <= 0 {
		errs = append(errs, errors.New("ads.countdown: must be positive"))
	}

	backend := strings.ToLower(cfg.Storage.Backend)
	switch {
	case !backends[backend]:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend))
	case (backend == "file" || backend == "sqlite") && cfg.Storage.Path == "":
		errs = append(errs, fmt.Errorf("storage.path: required for %s backend", backend))
	case backend == "redis" && cfg.Storage.Redis.Addr == "":
		errs = append(errs, errors.New("storage.redis.addr: required for redis backend"))
	case backend == "mongo" && cfg.Storage.Mongo.URI == "":
		errs = append(errs, errors.New("storage.mongo.uri: required for mongo backend"))
	}

	if cfg.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen: required"))
	}
	return errors.Join(errs...)
}
