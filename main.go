package main

import (
	"encoding/hex"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/the-lightning-land/lnshell/api"
	"github.com/the-lightning-land/lnshell/console"
	"github.com/the-lightning-land/lnshell/controller"
	"github.com/the-lightning-land/lnshell/lnurl"
	"github.com/the-lightning-land/lnshell/node"
	"github.com/the-lightning-land/lnshell/nodedb"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	// Blank import to set up profiling HTTP handlers.
	_ "net/http/pprof"
)

var (
	// commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
	// date stores the date of this build. This should be set using -ldflags during compilation.
	Date string
)

func newLogger(out io.Writer, level log.Level, system string) *log.Entry {
	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	return logger.WithField("system", system)
}

// lnshellMain is the true entry point for lnshell. This is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit() is called.
func lnshellMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// Load CLI configuration and defaults
	cfg, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	log.Debug("Loaded config.")

	// Print version of the shell
	log.Infof("Version %s (commit %s)", Version, Commit)
	log.Infof("Built on %s", Date)

	// Stop here if only version was requested
	if cfg.ShowVersion {
		return nil
	}

	if cfg.Profiling.Listen != "" {
		go func() {
			log.Infof("Starting profiling server on %v", cfg.Profiling.Listen)
			// Redirect the root path
			http.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
			// All other handlers are registered on DefaultServeMux through the import of pprof
			err := http.ListenAndServe(cfg.Profiling.Listen, nil)
			if err != nil {
				log.Errorf("Could not run profiler: %v", err)
			}
		}()
	}

	network, err := networkParams(cfg.Network)
	if err != nil {
		return err
	}

	level := log.GetLevel()

	// the prompt owns the terminal, subsystems log through it
	c, err := console.New(&console.Config{
		In:     os.Stdin,
		Out:    os.Stdout,
		Prompt: ">> ",
		Logger: newLogger(os.Stderr, level, "console"),
	})
	if err != nil {
		return errors.Errorf("Could not open console: %v", err)
	}

	defer func() {
		log.SetOutput(os.Stdout)

		err := c.Close()
		if err != nil {
			log.Errorf("Could not restore terminal: %v", err)
		}
	}()

	log.SetOutput(c)

	// lnshell.db persistently stores pending events and subscription cursors
	shellDB, err := nodedb.Open(filepath.Join(cfg.DataDir, cfg.Network))
	if err != nil {
		return errors.Errorf("Could not open lnshell.db: %v", err)
	}

	log.Infof("Opened lnshell.db at %v", shellDB.Path())

	defer func() {
		err := shellDB.Close()
		if err != nil {
			log.Errorf("Could not close lnshell.db: %v", err)
		} else {
			log.Info("Closed lnshell.db.")
		}
	}()

	certBytes, err := os.ReadFile(cfg.Lnd.TLSCertPath)
	if err != nil {
		return errors.Errorf("Could not read lnd TLS certificate: %v", err)
	}

	macaroonBytes, err := os.ReadFile(cfg.Lnd.MacaroonPath)
	if err != nil {
		return errors.Errorf("Could not read lnd macaroon: %v", err)
	}

	var lsp *node.LspConfig

	if cfg.Lsp.Pubkey != "" {
		pubkeyBytes, err := hex.DecodeString(cfg.Lsp.Pubkey)
		if err != nil {
			return errors.Errorf("Could not decode lsp.pubkey: %v", err)
		}

		pubkey, err := btcec.ParsePubKey(pubkeyBytes)
		if err != nil {
			return errors.Errorf("Could not parse lsp.pubkey: %v", err)
		}

		lsp = &node.LspConfig{
			Pubkey:  pubkey,
			Address: cfg.Lsp.Address,
			Token:   cfg.Lsp.Token,
		}

		log.Infof("Using liquidity provider %v@%v", cfg.Lsp.Pubkey, cfg.Lsp.Address)
	}

	n, err := node.NewLndNode(&node.LndNodeConfig{
		Uri:           cfg.Lnd.RPCServer,
		CertBytes:     certBytes,
		MacaroonBytes: macaroonBytes,
		Network:       network,
		Store:         shellDB,
		Lsp:           lsp,
		SyncTimeout:   cfg.SyncTimeout,
		Logger:        newLogger(c, level, "node"),
	})
	if err != nil {
		return errors.Errorf("Could not create node: %v", err)
	}

	log.Infof("Created lnd node for %v", cfg.Lnd.RPCServer)

	lnurlClient := lnurl.NewClient(&lnurl.Config{
		Timeout:  cfg.Lnurl.Timeout,
		RetryMax: cfg.Lnurl.RetryMax,
		Logger:   newLogger(c, level, "lnurl"),
	})

	var a controller.Api

	if cfg.Api.Listen != "" {
		a = api.New(&api.Config{
			Log: newLogger(c, level, "api"),
		})

		log.Infof("Created API")
	}

	// central controller for everything the shell does
	ctrl := controller.NewController(&controller.Config{
		Node:              n,
		Lnurl:             lnurlClient,
		Console:           c,
		Network:           network,
		EventPollInterval: cfg.EventPollInterval,
		Api:               a,
		ApiListen:         cfg.Api.Listen,
		Logger:            newLogger(c, level, "controller"),
	})

	log.Infof("Created controller.")

	// Handle interrupt signals correctly
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt)
		sig := <-signals
		log.Info(sig)
		log.Info("Received an interrupt, stopping shell...")
		ctrl.Shutdown()
	}()

	// blocks until the operator exits or the shell is shut down
	err = ctrl.Run()
	if err != nil {
		return errors.Errorf("Failed running shell: %v", err)
	}

	// finish with no error
	return nil
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := lnshellMain(); err != nil {
		log.WithError(err).Println("Failed running lnshell.")
		os.Exit(1)
	}
}
