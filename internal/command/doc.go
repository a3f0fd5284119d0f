// Package command publishes operator control commands as ChirpStack
// downlinks.
//
// Each command targets one output channel of one device and becomes one
// publish on application/{app}/device/{eui}/command/down carrying
//
//	{"devEui":"...","confirmed":true,"fPort":10,"object":{"switch_1":"on"}}
//
// Switching both channels is two independent publishes, never a combined
// payload.
package command
