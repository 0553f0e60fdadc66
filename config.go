package main

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultConfigFilename    = "lnshell.conf"
	defaultNetwork           = "signet"
	defaultRPCServer         = "localhost:10009"
	defaultTLSCertFilename   = "tls.cert"
	defaultMacaroonFilename  = "admin.macaroon"
	defaultEventPollInterval = 100 * time.Millisecond
	defaultSyncTimeout       = 10 * time.Minute
	defaultLnurlTimeout      = 30 * time.Second
	defaultLnurlRetryMax     = 2

	// liquidity provider of the public signet used when none is configured
	defaultSignetLspPubkey  = "0371d6fd7d75de2d0372d03ea00e8bacdacb50c27d0eaea0a76a0622eff1f5ef2b"
	defaultSignetLspAddress = "3.84.56.108:39735"
	defaultSignetLspToken   = "4GH1W3YW"
)

var (
	defaultDataDir = btcutil.AppDataDir("lnshell", false)
	defaultLndDir  = btcutil.AppDataDir("lnd", false)
)

type lndConfig struct {
	RPCServer    string `long:"rpcserver" description:"host:port of lnd's gRPC interface"`
	TLSCertPath  string `long:"tlscertpath" description:"Path to lnd's TLS certificate"`
	MacaroonPath string `long:"macaroonpath" description:"Path to an admin macaroon of lnd"`
}

type lspConfig struct {
	Pubkey  string `long:"pubkey" description:"Node id of the LSPS2 liquidity provider"`
	Address string `long:"address" description:"host:port of the liquidity provider"`
	Token   string `long:"token" description:"Token sent to the liquidity provider"`
}

type lnurlConfig struct {
	Timeout  time.Duration `long:"timeout" description:"Timeout of a single LNURL request"`
	RetryMax int           `long:"retrymax" description:"How often a failed LNURL request is retried"`
}

type apiConfig struct {
	Listen string `long:"listen" description:"Serve the status api on this address"`
}

type profilingConfig struct {
	Listen string `long:"listen" description:"Serve profiling data on this address"`
}

type config struct {
	ShowVersion       bool          `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile        string        `long:"configfile" description:"Path to configuration file"`
	DataDir           string        `long:"datadir" description:"The directory to store lnshell's data within"`
	Network           string        `long:"network" description:"The bitcoin network lnd runs on" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest" choice:"simnet"`
	Debug             bool          `long:"debug" description:"Start lnshell in debug mode"`
	EventPollInterval time.Duration `long:"eventpollinterval" description:"How often pending node events are checked"`
	SyncTimeout       time.Duration `long:"synctimeout" description:"How long sync waits for lnd to catch up with the chain"`

	Lnd       *lndConfig       `group:"lnd" namespace:"lnd"`
	Lsp       *lspConfig       `group:"lsp" namespace:"lsp"`
	Lnurl     *lnurlConfig     `group:"lnurl" namespace:"lnurl"`
	Api       *apiConfig       `group:"api" namespace:"api"`
	Profiling *profilingConfig `group:"profiling" namespace:"profiling"`
}

func defaultConfig() *config {
	return &config{
		DataDir:           defaultDataDir,
		Network:           defaultNetwork,
		EventPollInterval: defaultEventPollInterval,
		SyncTimeout:       defaultSyncTimeout,
		Lnd: &lndConfig{
			RPCServer: defaultRPCServer,
		},
		Lsp: &lspConfig{},
		Lnurl: &lnurlConfig{
			Timeout:  defaultLnurlTimeout,
			RetryMax: defaultLnurlRetryMax,
		},
		Api:       &apiConfig{},
		Profiling: &profilingConfig{},
	}
}

// loadConfig reads the command line, then the config file it points to,
// then the command line again so that flags win over the file.
func loadConfig() (*config, error) {
	preCfg := defaultConfig()

	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}

	if preCfg.ShowVersion {
		return preCfg, nil
	}

	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(preCfg.DataDir, defaultConfigFilename)
	}

	cfg := defaultConfig()

	if err := flags.IniParse(configFile, cfg); err != nil {
		// a missing default config file is fine, a missing explicit one is not
		if _, ok := err.(*os.PathError); !ok || preCfg.ConfigFile != "" {
			return nil, errors.Errorf("Could not read config file %v: %v", configFile, err)
		}
	}

	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Lnd.TLSCertPath == "" {
		cfg.Lnd.TLSCertPath = filepath.Join(defaultLndDir, defaultTLSCertFilename)
	}

	if cfg.Lnd.MacaroonPath == "" {
		cfg.Lnd.MacaroonPath = filepath.Join(defaultLndDir, "data", "chain", "bitcoin",
			cfg.Network, defaultMacaroonFilename)
	}

	if cfg.Network == "signet" && cfg.Lsp.Pubkey == "" {
		cfg.Lsp.Pubkey = defaultSignetLspPubkey
		cfg.Lsp.Address = defaultSignetLspAddress
		cfg.Lsp.Token = defaultSignetLspToken
	}

	if cfg.Lsp.Pubkey != "" && cfg.Lsp.Address == "" {
		return nil, errors.New("lsp.address is required when lsp.pubkey is set")
	}

	return cfg, nil
}

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.Errorf("Unknown network %v", network)
	}
}
