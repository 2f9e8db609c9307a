package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/spf13/cobra"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

var (
	loginServer   string
	loginClientID string
	loginScope    string
	loginResource string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a token through the device authorization flow",
	Long: `Starts a device authorization against the server, prints the
verification URI and user code, then polls the token endpoint until the
grant is approved, denied or expired.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base := strings.TrimSuffix(loginServer, "/")
		if base == "" {
			base = strings.TrimSuffix(cfg.SelfReferenceURI, "/")
		}

		httpClient := &http.Client{Timeout: 15 * time.Second}

		resp, err := httpClient.PostForm(base+"/oauth/device", url.Values{
			"client_id": {loginClientID},
			"scope":     {loginScope},
			"resource":  {loginResource},
		})
		if err != nil {
			return fmt.Errorf("device authorization request failed: %w", err)
		}

		var grant oidc.DeviceAuthorizationResponse
		if err := decodeOrFail(resp, &grant); err != nil {
			return err
		}

		fmt.Printf("Open %s and confirm code %s\n", grant.VerificationURIComplete, grant.UserCode)

		interval := time.Duration(grant.Interval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}
		deadline := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)

		for time.Now().Before(deadline) {
			time.Sleep(interval)

			resp, err := httpClient.PostForm(base+"/oauth/token", url.Values{
				"client_id":   {loginClientID},
				"grant_type":  {models.GrantTypeDeviceCode},
				"device_code": {grant.DeviceCode},
			})
			if err != nil {
				return fmt.Errorf("token request failed: %w", err)
			}

			var body struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
				ExpiresIn    int64  `json:"expires_in"`
				Error        string `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				resp.Body.Close()
				return fmt.Errorf("malformed token response: %w", err)
			}
			resp.Body.Close()

			switch body.Error {
			case "":
				fmt.Printf("access_token: %s\n", body.AccessToken)
				if body.RefreshToken != "" {
					fmt.Printf("refresh_token: %s\n", body.RefreshToken)
				}
				fmt.Printf("expires_in: %d\n", body.ExpiresIn)
				return nil
			case "authorization_pending":
				continue
			case "slow_down":
				interval += 5 * time.Second
				continue
			default:
				return fmt.Errorf("authorization failed: %s", body.Error)
			}
		}

		return fmt.Errorf("device authorization expired before it was approved")
	},
}

func decodeOrFail(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("server rejected the request: %s", failure.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Base URL of the identity provider (defaults to the configured issuer)")
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "OAuth client registered for the device_code grant")
	loginCmd.Flags().StringVar(&loginScope, "scope", "openid offline_access", "Requested scopes, space separated")
	loginCmd.Flags().StringVar(&loginResource, "resource", "", "Resource URL the token is requested for")
	_ = loginCmd.MarkFlagRequired("client-id")

	rootCmd.AddCommand(loginCmd)
}
