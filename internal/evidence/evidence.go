// Package evidence derives the photo-proof slots required to close out an
// install order. The derivation is a pure function of the device catalog and
// the order's selection + quantities; it is recomputed on demand and never
// stored, so a revised selection can never diverge from its plan.
package evidence

import (
	"fmt"

	"github.com/muradov/gpsmaster/internal/config"
)

// Evidence kinds, used as the last segment of a slot key.
const (
	KindDevice    = "device"
	KindCompanion = "companion"
	KindOdometer  = "odometer"
	KindPlate     = "plate"
)

// Slot is one required-or-optional photographic proof for a device unit.
type Slot struct {
	Key      string // stable id: "<kind>:<unit>:<evidence>"
	Label    string
	Required bool
}

// Catalog is the device-kind catalog a plan is derived against.
type Catalog struct {
	order     []string
	accessory map[string]bool
	parent    string
	companion string
}

// NewCatalog builds a Catalog from configuration.
func NewCatalog(devices []config.DeviceConfig, pairing config.PairingConfig) Catalog {
	c := Catalog{accessory: make(map[string]bool, len(devices))}
	for _, d := range devices {
		c.order = append(c.order, d.Name)
		c.accessory[d.Name] = d.Accessory
	}
	c.parent = pairing.Parent
	c.companion = pairing.Companion
	return c
}

// Kinds returns the catalog kinds in display order.
func (c Catalog) Kinds() []string {
	return append([]string(nil), c.order...)
}

// IsAccessory reports whether the kind is an accessory (no evidence slots).
func (c Catalog) IsAccessory(kind string) bool {
	return c.accessory[kind]
}

// Known reports whether the kind exists in the catalog.
func (c Catalog) Known(kind string) bool {
	_, ok := c.accessory[kind]
	return ok
}

// Plan derives the ordered slot list for the given selection. Kinds not in
// the catalog are ignored. Rules:
//
//   - accessories generate no slots;
//   - every device unit gets a mandatory identity slot;
//   - when the companion kind is co-selected with its parent kind, the first
//     min(parentQty, companionQty) parent units each gain a mandatory
//     companion slot, and only companion units in excess of the parent
//     quantity appear standalone;
//   - every non-companion unit gets optional odometer and plate slots;
//   - companion units never get odometer or plate slots.
func (c Catalog) Plan(options []string, quantities map[string]int) []Slot {
	selected := make(map[string]bool, len(options))
	for _, k := range options {
		if c.Known(k) {
			selected[k] = true
		}
	}

	qty := func(kind string) int {
		if n := quantities[kind]; n > 0 {
			return n
		}
		return 1
	}

	paired := c.parent != "" && selected[c.parent] && selected[c.companion]
	pairedUnits := 0
	if paired {
		pairedUnits = min(qty(c.parent), qty(c.companion))
	}

	var plan []Slot
	for _, kind := range c.order {
		if !selected[kind] || c.accessory[kind] {
			continue
		}

		switch {
		case paired && kind == c.parent:
			for i := 1; i <= qty(kind); i++ {
				plan = append(plan, identitySlot(kind, i))
				if i <= pairedUnits {
					plan = append(plan, Slot{
						Key:      slotKey(kind, i, KindCompanion),
						Label:    fmt.Sprintf("%s #%d: %s sensor photo", kind, i, c.companion),
						Required: true,
					})
				}
				plan = append(plan, optionalSlots(kind, i)...)
			}

		case paired && kind == c.companion:
			// Only units beyond the parent quantity appear standalone.
			for i := 1; i <= qty(kind)-pairedUnits; i++ {
				plan = append(plan, identitySlot(kind, i))
			}

		case kind == c.companion:
			// Companion selected without its parent: standalone units,
			// identity only.
			for i := 1; i <= qty(kind); i++ {
				plan = append(plan, identitySlot(kind, i))
			}

		default:
			for i := 1; i <= qty(kind); i++ {
				plan = append(plan, identitySlot(kind, i))
				plan = append(plan, optionalSlots(kind, i)...)
			}
		}
	}
	return plan
}

func identitySlot(kind string, unit int) Slot {
	return Slot{
		Key:      slotKey(kind, unit, KindDevice),
		Label:    fmt.Sprintf("%s #%d: device photo", kind, unit),
		Required: true,
	}
}

func optionalSlots(kind string, unit int) []Slot {
	return []Slot{
		{
			Key:   slotKey(kind, unit, KindOdometer),
			Label: fmt.Sprintf("%s #%d: odometer photo", kind, unit),
		},
		{
			Key:   slotKey(kind, unit, KindPlate),
			Label: fmt.Sprintf("%s #%d: plate photo", kind, unit),
		},
	}
}

func slotKey(kind string, unit int, evidence string) string {
	return fmt.Sprintf("%s:%d:%s", kind, unit, evidence)
}

// Find returns the slot with the given key, or nil.
func Find(plan []Slot, key string) *Slot {
	for i := range plan {
		if plan[i].Key == key {
			return &plan[i]
		}
	}
	return nil
}

// Unresolved returns the slots that have neither a photo nor a skip recorded.
func Unresolved(plan []Slot, photos map[string]string) []Slot {
	var open []Slot
	for _, s := range plan {
		if photos[s.Key] == "" {
			open = append(open, s)
		}
	}
	return open
}

// UnresolvedRequired returns the mandatory slots still missing a photo.
func UnresolvedRequired(plan []Slot, photos map[string]string) []Slot {
	var open []Slot
	for _, s := range plan {
		if s.Required && photos[s.Key] == "" {
			open = append(open, s)
		}
	}
	return open
}

// MissingOptional returns labels of optional slots that were skipped or left
// unresolved, for the completion notice sent to the dispatcher.
func MissingOptional(plan []Slot, photos map[string]string, skipped string) []string {
	var missing []string
	for _, s := range plan {
		if s.Required {
			continue
		}
		if v := photos[s.Key]; v == "" || v == skipped {
			missing = append(missing, s.Label)
		}
	}
	return missing
}
