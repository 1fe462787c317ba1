// Package mqtt connects the engine to an MQTT broker.  Devices publish
// reports on vesta/devices/{id}/{lock|gas|door}; the engine publishes fan
// commands and push notifications back through the same client.
package mqtt
