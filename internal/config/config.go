package config

import (
	"fmt"
	"log"
	"sync"
	"vpnbot/entity"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env-default:"8080"`
}

type TelegramConfig struct {
	ApiKey   string  `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	AdminIds []int64 `yaml:"admin_ids"`
}

type MySqlConfig struct {
	HostName string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"3306"`
	UserName string `yaml:"user" env-default:"vpnbot"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD" env-default:""`
	Database string `yaml:"database" env-default:"vpnbot"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
	Database string `yaml:"database" env-default:"vpnbot"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	Db       int    `yaml:"db" env-default:"0"`
}

type PanelConfig struct {
	BaseURL  string  `yaml:"base_url" env-default:""`
	ApiToken string  `yaml:"api_token" env:"PANEL_API_TOKEN" env-default:""`
	Rps      float64 `yaml:"rps" env-default:"5"`
}

type StripeConfig struct {
	Enabled       bool   `yaml:"enabled" env-default:"false"`
	APIKey        string `yaml:"api_key" env:"STRIPE_API_KEY" env-default:""`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-default:""`
	SuccessURL    string `yaml:"success_url" env-default:""`
}

type CryptoBotConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	ApiToken string `yaml:"api_token" env:"CRYPTOBOT_API_TOKEN" env-default:""`
	Asset    string `yaml:"asset" env-default:"USDT"`
}

// InvitesConfig bounds the invite ledger. The redemption discipline
// (INV_ + lowercase hex, atomic conditional update) is fixed; only the
// product-choice numbers are tunable.
type InvitesConfig struct {
	CodeHexLength    int  `yaml:"code_hex_length" env-default:"16"`
	MaxUsesLimit     int  `yaml:"max_uses_limit" env-default:"1000"`
	OpenRegistration bool `yaml:"open_registration" env-default:"false"`
}

type TrialConfig struct {
	Enabled     bool `yaml:"enabled" env-default:"true"`
	Days        int  `yaml:"days" env-default:"7"`
	DataLimitGB int  `yaml:"data_limit_gb" env-default:"10"`
}

type ReferralConfig struct {
	Enabled    bool  `yaml:"enabled" env-default:"true"`
	BonusCents int64 `yaml:"bonus_cents" env-default:"100"`
}

type SupportConfig struct {
	MaxOpenTickets int `yaml:"max_open_tickets" env-default:"3"`
}

type VlessConfig struct {
	ServerAddr string `yaml:"server_addr" env-default:""`
	Port       int    `yaml:"port" env-default:"443"`
	PublicKey  string `yaml:"public_key" env-default:""`
	Sni        string `yaml:"sni" env-default:"www.apple.com"`
	Tag        string `yaml:"tag" env-default:"VPN"`
}

type Config struct {
	Env       string          `yaml:"env" env-default:"local"`
	Listen    Listen          `yaml:"listen"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	MySql     MySqlConfig     `yaml:"mysql"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Redis     RedisConfig     `yaml:"redis"`
	Panel     PanelConfig     `yaml:"panel"`
	Stripe    StripeConfig    `yaml:"stripe"`
	CryptoBot CryptoBotConfig `yaml:"cryptobot"`
	Invites   InvitesConfig   `yaml:"invites"`
	Trial     TrialConfig     `yaml:"trial"`
	Referral  ReferralConfig  `yaml:"referral"`
	Support   SupportConfig   `yaml:"support"`
	Vless     VlessConfig     `yaml:"vless"`
	Plans     []entity.Plan   `yaml:"plans"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}
