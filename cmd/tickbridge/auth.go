package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marco308/ticktick-bridge/internal/ui"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage TickTick authorization",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize tickbridge against your TickTick account",
	Long: `Run the OAuth2 authorization flow.

Prints an authorization URL, waits for the browser redirect on
localhost and stores the obtained token under the config directory.
Requires client_id and client_secret from a registered TickTick app
(https://developer.ticktick.com) in the config file.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		mgr, err := newAuthManager(cfg, newLogger("auth"))
		if err != nil {
			fatalf("%v", err)
		}

		tok, err := mgr.Login(cmd.Context())
		if err != nil {
			fatalf("login failed: %v", err)
		}

		fmt.Println(ui.Success("Authorized."))
		if !tok.Expiry.IsZero() {
			fmt.Println(ui.Muted(fmt.Sprintf("Access token expires %s", tok.Expiry.Local().Format(time.RFC1123))))
		}
		fmt.Println(ui.Muted("Token stored at " + mgr.TokenPath()))
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored credential status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		mgr, err := newAuthManager(cfg, newLogger("auth"))
		if err != nil {
			fatalf("%v", err)
		}

		st := mgr.Status()
		if !st.Authorized {
			fmt.Println(ui.Warn("Not authorized. Run 'tickbridge auth login'."))
			return
		}
		fmt.Println(ui.Success("Authorized."))
		if !st.Expiry.IsZero() {
			when := st.Expiry.Local().Format(time.RFC1123)
			if st.Expired {
				fmt.Println(ui.Warn(fmt.Sprintf("Access token expired %s (will refresh on next use)", when)))
			} else {
				fmt.Println(ui.Muted("Access token expires " + when))
			}
		}
		fmt.Println(ui.Muted("Token stored at " + st.TokenPath))
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
}
