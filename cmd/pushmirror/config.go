package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/viper"

	"github.com/agentworkforce/pushmirror/internal/credstore"
	"github.com/agentworkforce/pushmirror/internal/pushapi"
)

func credentialService() string {
	service := strings.TrimSpace(viper.GetString("credentials.service"))
	if service == "" {
		return credstore.DefaultService
	}
	return service
}

func openCredentialStore() (credstore.Store, error) {
	store, err := credstore.Open(viper.GetString("credentials.dsn"))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return store, nil
}

func apiClientFromViper() *pushapi.Client {
	return pushapi.NewClient(
		viper.GetString("api.base_url"),
		&http.Client{Timeout: viper.GetDuration("http.timeout")},
	)
}

// requireToken loads the stored access token or explains how to set one.
func requireToken(store credstore.Store) (string, error) {
	creds, err := credstore.Load(store, credentialService())
	if err != nil {
		return "", err
	}
	if creds.AccessToken == "" {
		return "", fmt.Errorf("no access token stored; run `pushmirror token set`")
	}
	return creds.AccessToken, nil
}
