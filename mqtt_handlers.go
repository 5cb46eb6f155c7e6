package main

import (
	"dhtpub/shared"
	"dhtpub/utils"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// makeOnConnectHandler logs the connection and (re)subscribes to the configured filters.
func makeOnConnectHandler(cfg *shared.Config) mqtt.OnConnectHandler {
	broker := utils.BrokerURL(cfg)
	return func(client mqtt.Client) {
		log.Info("connected to MQTT broker", "broker", broker)

		if len(cfg.Subscribe) == 0 {
			return
		}
		for _, filter := range cfg.Subscribe {
			log.Infof("subscribing to topic: ['%s'] with Qos: [%d]", filter, cfg.QoS)
		}
		if token := client.SubscribeMultiple(utils.TopicsQoS(cfg.Subscribe, cfg.QoS), nil); token.Wait() && token.Error() != nil {
			log.Error("Subscription error:", "err", token.Error())
		}
	}
}

func connectionLostHandler(_ mqtt.Client, err error) {
	log.Warn("connection to MQTT broker lost", "err", err)
}

// makeHandler logs inbound messages. Echoes of our own publications are debug only.
func makeHandler(namespace string) mqtt.MessageHandler {
	own := namespace + "/#"
	return func(client mqtt.Client, msg mqtt.Message) {
		topic := msg.Topic()
		payload := utils.ReplaceBinaryWithHex(string(msg.Payload()))

		if utils.TopicMatches(own, topic) {
			log.Debugf("own message on \x1b[33m%s\x1b[0m: %s", topic, payload)
			return
		}
		log.Infof("Received MQTT message from topic: \x1b[33m%s\x1b[0m payload: [%s]", topic, payload)
	}
}
