package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	MainnetDepositContract              = "0x00000000219ab540356cBB839Cbe05303d7705Fa"
	MainnetDepositContractCreationBlock = 11052984
)

// Environment variables are looked up by the full names in the envconfig tags
type Config struct {
	Server struct {
		ListenAddress   string        `yaml:"listenAddress" envconfig:"SERVER_LISTEN_ADDRESS"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path" envconfig:"DB_PATH"`
	} `yaml:"database"`
	Eth1 struct {
		RpcUrl                       string        `yaml:"rpcUrl" envconfig:"ETH1_RPC_URL"`
		DepositContractAddress       string        `yaml:"depositContractAddress" envconfig:"ETH1_DEPOSIT_CONTRACT_ADDRESS"`
		DepositContractCreationBlock uint64        `yaml:"depositContractCreationBlock" envconfig:"ETH1_DEPOSIT_CONTRACT_CREATION_BLOCK"`
		BlockRange                   uint64        `yaml:"blockRange" envconfig:"ETH1_BLOCK_RANGE"`
		PollInterval                 time.Duration `yaml:"pollInterval" envconfig:"ETH1_POLL_INTERVAL"`
		Backoff                      time.Duration `yaml:"backoff" envconfig:"ETH1_BACKOFF"`
		MaxBackoff                   time.Duration `yaml:"maxBackoff" envconfig:"ETH1_MAX_BACKOFF"`
	} `yaml:"eth1"`
	Ethdo struct {
		Binary  string        `yaml:"binary" envconfig:"ETHDO_BINARY"`
		BaseDir string        `yaml:"baseDir" envconfig:"ETHDO_BASE_DIR"`
		Timeout time.Duration `yaml:"timeout" envconfig:"ETHDO_TIMEOUT"`
	} `yaml:"ethdo"`
}

// Default returns a mainnet configuration with a local execution client
func Default() *Config {
	cfg := &Config{}
	cfg.Server.ListenAddress = "127.0.0.1:8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Database.Path = "data/db"
	cfg.Eth1.RpcUrl = "ws://127.0.0.1:8546"
	cfg.Eth1.DepositContractAddress = MainnetDepositContract
	cfg.Eth1.DepositContractCreationBlock = MainnetDepositContractCreationBlock
	cfg.Eth1.BlockRange = 1000
	cfg.Eth1.PollInterval = time.Minute
	cfg.Eth1.Backoff = 5 * time.Second
	cfg.Eth1.MaxBackoff = 5 * time.Minute
	cfg.Ethdo.Binary = "ethdo"
	cfg.Ethdo.Timeout = 30 * time.Second
	return cfg
}

// Load reads the yaml file at path over the defaults, then applies environment overrides.
// An empty path only uses the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := readConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := readConfigEnv(cfg); err != nil {
		return nil, fmt.Errorf("error reading config from environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("error decoding config file %v: %w", path, err)
	}
	return nil
}

func readConfigEnv(cfg *Config) error {
	return envconfig.Process("", cfg)
}

func (cfg *Config) validate() error {
	if !common.IsHexAddress(cfg.Eth1.DepositContractAddress) {
		return fmt.Errorf("invalid deposit contract address %q", cfg.Eth1.DepositContractAddress)
	}
	if cfg.Eth1.RpcUrl == "" {
		return errors.New("eth1 rpc url is required")
	}
	if cfg.Database.Path == "" {
		return errors.New("database path is required")
	}
	return nil
}

func (cfg *Config) DepositContractAddress() common.Address {
	return common.HexToAddress(cfg.Eth1.DepositContractAddress)
}
