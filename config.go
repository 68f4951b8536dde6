package certsd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-acme/lego/v4/lego"
	"github.com/pelletier/go-toml/v2"
)

const (
	NotifySlack    = "slack"
	NotifyTelegram = "telegram"
	NotifyWebhook  = "webhook"
)

// DefaultConfigPaths are searched in order when no config file is given.
var DefaultConfigPaths = []string{
	"/etc/certsd/certsd.toml",
	"/usr/local/etc/certsd/certsd.toml",
	"certsd.toml",
}

// Notification configures one notification channel. Only the fields of its kind are used.
type Notification struct {
	Kind    string `toml:"kind" comment:"slack, telegram or webhook"`
	Webhook string `toml:"webhook,omitempty" comment:"Slack incoming webhook URL"`
	ChatID  string `toml:"chat_id,omitempty" comment:"Telegram chat id or @channel"`
	Token   string `toml:"token,omitempty" comment:"Telegram bot token (set via env)"`
	URL     string `toml:"url,omitempty" comment:"Generic webhook URL receiving a JSON message"`
}

// DomainAccount holds the per domain settings: ACME contacts and the Cloudflare zone used for DNS-01.
type DomainAccount struct {
	Domain             string   `toml:"domain" comment:"Apex domain; both domain and *.domain are renewed"`
	Contacts           []string `toml:"contacts" comment:"ACME account contact emails"`
	CloudflareZoneID   string   `toml:"cloudflare_zone_id" comment:"Cloudflare zone identifier"`
	CloudflareAPIToken string   `toml:"cloudflare_api_token" comment:"Cloudflare API token (set via env)"`
}

type Config struct {
	AcmeStaging            bool            `toml:"acme_staging" comment:"Use the Let's Encrypt staging directory"`
	CADirectoryURL         string          `toml:"ca_directory_url,omitempty" comment:"ACME directory URL, overrides acme_staging"`
	DataDir                string          `toml:"data_dir,omitempty" comment:"Keys and certificates, defaults to <config dir>/certs"`
	HistoryDB              string          `toml:"history_db,omitempty" comment:"Optional SQLite file recording issued certificates"`
	PropagationNameservers []string        `toml:"propagation_nameservers,omitempty" comment:"Resolvers checked for the TXT record before validation"`
	Notifications          []Notification  `toml:"notifications"`
	Accounts               []DomainAccount `toml:"accounts"`
}

// DiscoverConfig returns the first existing file of paths.
func DiscoverConfig(paths []string) (string, error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("config: no config file found in %s", strings.Join(paths, ", "))
}

// LoadConfig reads a TOML file, expands ${VAR} references in secrets and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.expandSecrets()
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "certs")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envRef matches the ${VAR} form only; a bare $ in a secret is kept as is.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func (c *Config) expandSecrets() {
	for i := range c.Accounts {
		c.Accounts[i].CloudflareAPIToken = expandEnv(c.Accounts[i].CloudflareAPIToken)
		c.Accounts[i].CloudflareZoneID = expandEnv(c.Accounts[i].CloudflareZoneID)
	}
	for i := range c.Notifications {
		c.Notifications[i].Webhook = expandEnv(c.Notifications[i].Webhook)
		c.Notifications[i].Token = expandEnv(c.Notifications[i].Token)
		c.Notifications[i].URL = expandEnv(c.Notifications[i].URL)
	}
}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("config: accounts cannot be empty")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.Domain == "" {
			return fmt.Errorf("config: accounts[%d].domain cannot be empty", i)
		}
		if strings.HasPrefix(acct.Domain, "*.") {
			return fmt.Errorf("config: accounts[%d].domain %q must be the apex name, wildcard is implied", i, acct.Domain)
		}
		if seen[acct.Domain] {
			return fmt.Errorf("config: domain %q configured twice", acct.Domain)
		}
		seen[acct.Domain] = true
		if acct.CloudflareZoneID == "" {
			return fmt.Errorf("config: cloudflare_zone_id cannot be empty for domain %q", acct.Domain)
		}
		if acct.CloudflareAPIToken == "" {
			return fmt.Errorf("config: cloudflare_api_token cannot be empty for domain %q", acct.Domain)
		}
	}
	for i, n := range c.Notifications {
		switch n.Kind {
		case NotifySlack:
			if n.Webhook == "" {
				return fmt.Errorf("config: notifications[%d]: webhook cannot be empty for kind %q", i, n.Kind)
			}
		case NotifyTelegram:
			if n.ChatID == "" || n.Token == "" {
				return fmt.Errorf("config: notifications[%d]: chat_id and token are required for kind %q", i, n.Kind)
			}
		case NotifyWebhook:
			if n.URL == "" {
				return fmt.Errorf("config: notifications[%d]: url cannot be empty for kind %q", i, n.Kind)
			}
		default:
			return fmt.Errorf("config: notifications[%d]: unsupported kind %q", i, n.Kind)
		}
	}
	if c.DataDir == "" {
		return errors.New("config: data_dir cannot be empty")
	}
	return nil
}

// DirectoryURL resolves the ACME directory: explicit URL first, then staging vs production.
func (c *Config) DirectoryURL() string {
	if c.CADirectoryURL != "" {
		return c.CADirectoryURL
	}
	if c.AcmeStaging {
		return lego.LEDirectoryStaging
	}
	return lego.LEDirectoryProduction
}

func (c *Config) Domains() []string {
	domains := make([]string, 0, len(c.Accounts))
	for _, acct := range c.Accounts {
		domains = append(domains, acct.Domain)
	}
	return domains
}

func (c *Config) Account(domain string) (DomainAccount, error) {
	for _, acct := range c.Accounts {
		if acct.Domain == domain {
			return acct, nil
		}
	}
	return DomainAccount{}, fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
}

// ContactsOf returns the contacts as ACME mailto URIs.
func (c *Config) ContactsOf(domain string) []string {
	acct, err := c.Account(domain)
	if err != nil {
		return nil
	}
	contacts := make([]string, 0, len(acct.Contacts))
	for _, contact := range acct.Contacts {
		if strings.HasPrefix(contact, "mailto:") {
			contacts = append(contacts, contact)
			continue
		}
		contacts = append(contacts, "mailto:"+contact)
	}
	return contacts
}
