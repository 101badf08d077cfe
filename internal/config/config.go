package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// PartyIDKey is the id of the local party on the messaging channel and on
	// the ledger
	PartyIDKey = "PARTY_ID"
	// PartyNameKey is the display name of the local party sent along with the
	// signals
	PartyNameKey = "PARTY_NAME"
	// CounterpartIDKey is the id of the other party of the channel. Optional,
	// the buyer is otherwise learned from the trade-accept signal
	CounterpartIDKey = "COUNTERPART_ID"
	// ChannelIDKey is the messaging channel shared with the counterpart
	ChannelIDKey = "CHANNEL_ID"
	// CurrencyKey is the currency of the trades when the offer does not specify one
	CurrencyKey = "CURRENCY"
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// LedgerURLKey is the base url of the REST API of the escrow ledger
	LedgerURLKey = "LEDGER_URL"
	// LedgerTimeoutKey bounds every request to the ledger
	LedgerTimeoutKey = "LEDGER_TIMEOUT"
	// LedgerRateLimitKey is the max number of requests per second to the ledger
	LedgerRateLimitKey = "LEDGER_RATE_LIMIT"
	// ChatWSURLKey is the websocket endpoint of the chat gateway
	ChatWSURLKey = "CHAT_WS_URL"
	// ResponseWindowKey is how long a party has to answer a seller-ready
	ResponseWindowKey = "RESPONSE_WINDOW"
	// FundLockWindowKey is how long funds stay in escrow before the trade is
	// cancelled
	FundLockWindowKey = "FUND_LOCK_WINDOW"
	// CacheStaleAfterKey is the age after which a persisted trade is discarded
	CacheStaleAfterKey = "CACHE_STALE_AFTER"
	// OperatorListeningPortKey is the port where the operator REST interface will listen on
	OperatorListeningPortKey = "OPERATOR_LISTENING_PORT"
	// WebhookTimeoutKey bounds every webhook invocation
	WebhookTimeoutKey = "WEBHOOK_TIMEOUT"
	// CORSOriginsKey is the comma separated list of origins allowed to call
	// the operator interface
	CORSOriginsKey = "CORS_ORIGINS"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"

	DbLocation     = "db"
	PubSubLocation = "pubsub"

	DBBadger   = "badger"
	DBInMemory = "inmemory"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("tradecoord", false)

// InitConfig loads the .env file of the working directory, if any, then reads
// the TRADECOORD_ prefixed environment.
func InitConfig() error {
	// The .env file is optional and never overrides the environment.
	// nolint
	godotenv.Load()

	vip = viper.New()
	vip.SetEnvPrefix("TRADECOORD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(CurrencyKey, "USD")
	vip.SetDefault(LedgerTimeoutKey, 8*time.Second)
	vip.SetDefault(LedgerRateLimitKey, 20)
	vip.SetDefault(ResponseWindowKey, 15*time.Minute)
	vip.SetDefault(FundLockWindowKey, 5*time.Minute)
	vip.SetDefault(CacheStaleAfterKey, 24*time.Hour)
	vip.SetDefault(OperatorListeningPortKey, 9000)
	vip.SetDefault(WebhookTimeoutKey, 15*time.Second)
	vip.SetDefault(DBTypeKey, DBBadger)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

// GetList splits a comma separated value, skipping empty entries.
func GetList(key string) []string {
	list := make([]string, 0)
	for _, v := range strings.Split(GetString(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return list
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

// Set a value for the given key
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	for _, key := range []string{PartyIDKey, ChannelIDKey} {
		if GetString(key) == "" {
			return fmt.Errorf("missing %s", key)
		}
	}

	for _, key := range []string{LedgerURLKey, ChatWSURLKey} {
		endpoint := GetString(key)
		if endpoint == "" {
			return fmt.Errorf("missing %s", key)
		}
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("%s is not a valid url: %s", key, err)
		}
	}

	for _, key := range []string{
		LedgerTimeoutKey, ResponseWindowKey, FundLockWindowKey,
		CacheStaleAfterKey, WebhookTimeoutKey,
	} {
		if GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}

	if GetInt(LedgerRateLimitKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", LedgerRateLimitKey)
	}

	dbType := GetString(DBTypeKey)
	if dbType != DBBadger && dbType != DBInMemory {
		return fmt.Errorf(
			"%s must be either '%s' or '%s'", DBTypeKey, DBBadger, DBInMemory,
		)
	}

	return nil
}

func initDatadir() error {
	if GetString(DBTypeKey) != DBBadger {
		return nil
	}

	datadir := GetDatadir()
	for _, dir := range []string{DbLocation, PubSubLocation} {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, dir)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
