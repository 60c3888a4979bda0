// keyshard is a daemon and CLI for running dealerless distributed key
// generation between nodes, producing threshold BLS key shares.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/keyshard/keyshard/common/log"
	"github.com/keyshard/keyshard/crypto"
	dhttp "github.com/keyshard/keyshard/http"
	"github.com/keyshard/keyshard/key"
	"github.com/keyshard/keyshard/session"
	"github.com/keyshard/keyshard/session/boltdb"
	"github.com/keyshard/keyshard/session/memdb"
)

// Automatically set through -ldflags
var (
	version   = "master"
	gitCommit = "none"
	buildDate = "unknown"
)

var folderFlag = &cli.StringFlag{
	Name:  "folder",
	Value: defaultConfigFolder(),
	Usage: "Folder to keep all keyshard cryptographic information, with absolute path.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level",
}

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Set the format of the logs to JSON",
}

var bindFlag = &cli.StringFlag{
	Name:  "bind",
	Value: "127.0.0.1:3000",
	Usage: "Address the daemon listens on",
}

var memoryFlag = &cli.BoolFlag{
	Name:  "memory",
	Usage: "Keep sessions in memory only instead of the on-disk store",
}

var connectFlag = &cli.StringFlag{
	Name:     "connect",
	Usage:    "Base URL of the responder daemon, e.g. http://127.0.0.1:3000",
	Required: true,
}

func defaultConfigFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keyshard"
	}
	return path.Join(home, ".keyshard")
}

func main() {
	app := &cli.App{
		Name:    "keyshard",
		Version: fmt.Sprintf("%v (date %v, commit %v)", version, buildDate, gitCommit),
		Usage:   "distributed key generation for threshold BLS signatures",
		Commands: []*cli.Command{
			{
				Name:      "generate-keypair",
				Usage:     "Generate the long-term BLS12-381 keypair for this node",
				ArgsUsage: "<address> the address other nodes reach this node at",
				Flags:     []cli.Flag{folderFlag},
				Action:    generateKeypairCmd,
			},
			{
				Name:   "daemon",
				Usage:  "Run the responder daemon answering key generation requests",
				Flags:  []cli.Flag{folderFlag, bindFlag, memoryFlag, verboseFlag, jsonFlag},
				Action: daemonCmd,
			},
			{
				Name:   "dkg",
				Usage:  "Initiate a key generation with a remote responder daemon",
				Flags:  []cli.Flag{folderFlag, connectFlag, verboseFlag, jsonFlag},
				Action: dkgCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger(c *cli.Context) log.Logger {
	level := log.InfoLevel
	if c.Bool(verboseFlag.Name) {
		level = log.DebugLevel
	}
	return log.New(nil, level, c.Bool(jsonFlag.Name))
}

func generateKeypairCmd(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return errors.New("missing node address argument")
	}
	pair, err := key.NewKeyPair(addr, crypto.NewBLSScheme(), nil)
	if err != nil {
		return err
	}
	store := key.NewFileStore(c.String(folderFlag.Name))
	if err := store.SaveKeyPair(pair); err != nil {
		return fmt.Errorf("could not save key: %w", err)
	}
	fmt.Printf("Generated keypair for %s\nPublic key: %s\n", addr, key.PointToString(pair.Public.Key))
	return nil
}

func daemonCmd(c *cli.Context) error {
	l := logger(c)
	folder := c.String(folderFlag.Name)
	keyStore := key.NewFileStore(folder)
	pair, err := keyStore.LoadKeyPair()
	if err != nil {
		return fmt.Errorf("no keypair found in %q, run generate-keypair first: %w", folder, err)
	}

	var sessions session.Store
	if c.Bool(memoryFlag.Name) {
		sessions = memdb.NewStore()
	} else {
		sessions, err = boltdb.NewBoltStore(l, folder, nil)
		if err != nil {
			return fmt.Errorf("could not open session store: %w", err)
		}
	}
	defer sessions.Close()

	server := dhttp.NewServer(l, pair, sessions, keyStore)
	httpServer := &http.Server{
		Addr:              c.String(bindFlag.Name),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	l.Infow("daemon listening", "bind", httpServer.Addr, "address", pair.Public.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func dkgCmd(c *cli.Context) error {
	l := logger(c)
	folder := c.String(folderFlag.Name)
	keyStore := key.NewFileStore(folder)
	pair, err := keyStore.LoadKeyPair()
	if err != nil {
		return fmt.Errorf("no keypair found in %q, run generate-keypair first: %w", folder, err)
	}

	client := dhttp.NewClient(l, c.String(connectFlag.Name), nil)
	share, err := client.Run(c.Context, pair)
	if err != nil {
		return err
	}
	if err := keyStore.SaveShare(share); err != nil {
		return fmt.Errorf("could not save share: %w", err)
	}
	fmt.Printf("Key generation complete\nGroup public key: %s\n", share.Public())
	return nil
}
