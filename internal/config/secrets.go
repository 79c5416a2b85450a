package config

import (
	"net/url"
	"slices"
	"strings"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Secrets become
// "***", a DSN keeps everything but its password, and the Discord webhook
// keeps its host. Slices are cloned so the copy can be modified freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Instruments = slices.Clone(cfg.Instruments)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	out.Postgres.DSN = redactURL(cfg.Postgres.DSN)
	out.Notify.DiscordWebhookURL = redactURLPath(cfg.Notify.DiscordWebhookURL)

	for _, s := range []*string{
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}

// redactURL masks the password of a URL-form DSN. Anything that does not
// parse as a URL with a scheme is masked entirely.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return strings.Replace(u.String(), url.QueryEscape(redacted), redacted, 1)
}

// redactURLPath keeps scheme and host and masks the path, which carries the
// webhook token.
func redactURLPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
