// Command sync-cli registers accounts and logs in against a sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// validateRegistration rejects what the server would refuse, plus a
// confirmation mismatch.
func validateRegistration(email, password, confirm string) error {
	switch {
	case email == "":
		return errors.New("email is empty")
	case !service.ValidEmail(email):
		return errors.New("email is not valid")
	case password == "":
		return errors.New("password is empty")
	case password != confirm:
		return errors.New("passwords do not match")
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var server string
	var timeout time.Duration

	withClient := func(cmd *cobra.Command, fn func(ctx context.Context, c *client) error) error {
		c, err := newClient(server)
		if err != nil {
			return err
		}
		defer c.close()
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return fn(ctx, c)
	}

	root := &cobra.Command{
		Use:          "sync-cli",
		Short:        "Client for the self-hosted sync server",
		Version:      fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	var email, name, password, confirm string
	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, name = strings.TrimSpace(email), strings.TrimSpace(name)
			password, confirm = strings.TrimSpace(password), strings.TrimSpace(confirm)
			if err := validateRegistration(email, password, confirm); err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client) error {
				resp, err := c.register(ctx, model.RegisterRequest{Email: email, Name: name, Password: password})
				if err != nil {
					return err
				}
				switch {
				case resp.Status == 200:
					cmd.Println("registered")
					return nil
				case resp.Message == "account_exists":
					return errors.New("account already exists")
				default:
					return fmt.Errorf("register failed: %d %s", resp.Status, resp.Message)
				}
			})
		},
	}
	register.Flags().StringVarP(&email, "email", "e", "", "account email")
	register.Flags().StringVarP(&name, "name", "n", "", "display name (optional)")
	register.Flags().StringVarP(&password, "password", "p", "", "password")
	register.Flags().StringVar(&confirm, "confirm", "", "password confirmation")

	var user, pass string
	login := &cobra.Command{
		Use:   "login",
		Short: "Obtain and cache a session key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == "" || pass == "" {
				return errors.New("need --user and --password")
			}
			return withClient(cmd, func(ctx context.Context, c *client) error {
				key, err := c.hostKey(ctx, user, pass)
				if err != nil {
					return err
				}
				if err := saveKey(keyFile{HostKey: key, User: user, Server: server}); err != nil {
					return err
				}
				cmd.Println("ok")
				return nil
			})
		},
	}
	login.Flags().StringVarP(&user, "user", "u", "", "account email")
	login.Flags().StringVarP(&pass, "password", "p", "", "password")

	media := &cobra.Command{
		Use:   "media-usn",
		Short: "Print the server media USN using the cached session key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			kf, err := loadKey()
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client) error {
				res, err := c.mediaBegin(ctx, kf.HostKey)
				if err != nil {
					return err
				}
				cmd.Println(res.USN)
				return nil
			})
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that the server answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, c *client) error {
				if err := c.health(ctx); err != nil {
					return err
				}
				cmd.Println("ok")
				return nil
			})
		},
	}

	root.AddCommand(register, login, media, health)
	return root
}
