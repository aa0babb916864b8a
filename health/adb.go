package health

import "strings"

// DeviceInfo is one entry reported by `adb devices -l`.
type DeviceInfo struct {
	Serial     string
	Status     string
	Properties map[string]string
}

// Ready reports whether the device is usable for automation (status
// "device", as opposed to "offline" or "unauthorized").
func (d DeviceInfo) Ready() bool {
	return strings.EqualFold(d.Status, "device")
}

// Describe returns a human-friendly label combining the serial with
// known properties.
func (d DeviceInfo) Describe() string {
	var extras []string
	model := d.Properties["model"]
	if model != "" {
		extras = append(extras, model)
	}
	if name := d.Properties["device"]; name != "" && name != model {
		extras = append(extras, name)
	}
	if transport := d.Properties["transport_id"]; transport != "" {
		extras = append(extras, "transport:"+transport)
	}
	if len(extras) == 0 {
		return d.Serial
	}
	return d.Serial + " (" + strings.Join(extras, ", ") + ")"
}

// ParseADBDevices parses `adb devices` or `adb devices -l` output into
// structured entries. Header lines, server notices, and unrecognized
// lines are skipped.
func ParseADBDevices(raw string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		device := DeviceInfo{
			Serial:     parts[0],
			Status:     "unknown",
			Properties: map[string]string{},
		}
		if len(parts) > 1 {
			device.Status = parts[1]
		}
		for _, token := range parts[2:] {
			key, value, ok := strings.Cut(token, ":")
			if !ok || key == "" || value == "" {
				continue
			}
			device.Properties[key] = value
		}
		devices = append(devices, device)
	}
	return devices
}
