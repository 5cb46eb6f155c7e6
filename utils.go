package main

import (
	"dhtpub/shared"
	"dhtpub/utils"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// clientID appends a UUID when the config asks for a collision-free identifier.
func clientID(cfg *shared.Config) string {
	if !cfg.UniqueClientID {
		return cfg.ClientID
	}
	if cfg.ClientID == "" {
		return uuid.NewString()
	}
	return cfg.ClientID + "-" + uuid.NewString()
}

func newClientOptions(cfg *shared.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(utils.BrokerURL(cfg))
	opts.SetClientID(clientID(cfg))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive())
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOnConnectHandler(makeOnConnectHandler(cfg))
	opts.SetConnectionLostHandler(connectionLostHandler)
	opts.SetDefaultPublishHandler(makeHandler(cfg.Topic))
	return opts
}
