package params

import (
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Node holds runtime settings for the exchange node.
type Node struct {
	ListenAddr string // REST/WebSocket bind address
	DBPath     string // pebble database directory; empty = in-memory only
	LogFile    string // structured log output; empty = console only
}

// Exchange holds core exchange parameters.
type Exchange struct {
	// AdminAddress is the only account allowed to register assets.
	AdminAddress common.Address
	// QuoteTicker names the asset all order notionals are priced in.
	QuoteTicker string
}

type Config struct {
	Node     Node
	Exchange Exchange
}

func Default() Config {
	return Config{
		Node: Node{
			ListenAddr: ":8080",
			DBPath:     "data/dex.db",
			LogFile:    "data/dex.log",
		},
		Exchange: Exchange{
			QuoteTicker: "ETH",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Node.ListenAddr = addr
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.Node.DBPath = path
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.Node.LogFile = file
	}
	if admin := os.Getenv("ADMIN_ADDRESS"); common.IsHexAddress(admin) {
		cfg.Exchange.AdminAddress = common.HexToAddress(admin)
	}
	if quote := os.Getenv("QUOTE_TICKER"); quote != "" {
		cfg.Exchange.QuoteTicker = quote
	}

	return cfg
}
