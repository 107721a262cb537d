package messaging

import (
	"math/rand"
	"sync"
)

// Device is the client fingerprint presented to the provider.
type Device struct {
	Model         string `json:"model"`
	SystemVersion string `json:"system_version"`
	AppVersion    string `json:"app_version,omitempty"`
}

// DefaultDevices is used when the config does not list any.
var DefaultDevices = []Device{
	{Model: "iPhone 13 Pro", SystemVersion: "iOS 17.0"},
	{Model: "SM-S918B", SystemVersion: "Android 14"},
	{Model: "iPhone 14 Pro Max", SystemVersion: "iOS 16.6"},
}

// Picker selects a device for a new connection.
type Picker func() Device

// Pick returns a uniformly random entry of devices, falling back to
// DefaultDevices when devices is empty. A nil rng uses the global source.
func Pick(devices []Device, rng *rand.Rand) Device {
	if len(devices) == 0 {
		devices = DefaultDevices
	}
	var i int
	if rng != nil {
		i = rng.Intn(len(devices))
	} else {
		i = rand.Intn(len(devices))
	}
	return devices[i]
}

// RandomPicker binds Pick to a device table. The returned picker is safe for
// concurrent use.
func RandomPicker(devices []Device, rng *rand.Rand) Picker {
	devs := append([]Device(nil), devices...)
	var mu sync.Mutex
	return func() Device {
		mu.Lock()
		defer mu.Unlock()
		return Pick(devs, rng)
	}
}
