package content

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed data/catalog.yaml
var dataFS embed.FS

// Catalog is the immutable narrative/configuration content the core consumes
// through lookups. It is loaded once at process start; validation failures
// are fatal at boot.
type Catalog struct {
	RoverProfiles map[string]*RoverProfile   `yaml:"rover_profiles"`
	Species       map[string]*SpeciesDef     `yaml:"species"`
	Missions      map[string]*MissionDef     `yaml:"missions"`
	Messages      map[string]*MessageDef     `yaml:"messages"`
	Achievements  map[string]*AchievementDef `yaml:"achievements"`
	Capabilities  map[string]*CapabilityDef  `yaml:"capabilities"`
	Vouchers      map[string]*VoucherDef     `yaml:"vouchers"`
	Regions       map[string]*RegionDef      `yaml:"regions"`
	Assets        []*AssetDef                `yaml:"assets"`
	GiftTypes     map[string]*GiftTypeDef    `yaml:"gift_types"`
	Products      map[string]*ProductDef     `yaml:"products"`
	LureBodies    []string                   `yaml:"lure_bodies"`

	speciesByNum map[int]*SpeciesDef
}

type RoverProfile struct {
	Key                 string   `yaml:"key"`
	Chassis             string   `yaml:"chassis"`
	MaxUnarrivedTargets int      `yaml:"max_unarrived_targets"`
	MinTravelSeconds    int64    `yaml:"min_travel_seconds"`
	MaxTravelSeconds    int64    `yaml:"max_travel_seconds"`
	// MaxTravelDistance is in degrees of great-circle separation.
	MaxTravelDistance   float64  `yaml:"max_travel_distance"`
	Features            []string `yaml:"features"`
}

type SpeciesDef struct {
	Key        string `yaml:"key"`
	Num        int    `yaml:"num"`
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // PLANT|ANIMAL|MINERAL
	Subspecies []struct {
		ID   int    `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"subspecies"`
}

type MissionDef struct {
	Def     string `yaml:"def"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
	Sort    int    `yaml:"sort"`
}

type MessageDef struct {
	Type       string `yaml:"type"`
	Sender     string `yaml:"sender"`
	Subject    string `yaml:"subject"`
	Body       string `yaml:"body"`
	Locked     bool   `yaml:"locked"`
	Passphrase string `yaml:"passphrase"`
}

type AchievementDef struct {
	Key    string `yaml:"key"`
	Title  string `yaml:"title"`
	Secret bool   `yaml:"secret"`
}

type CapabilityDef struct {
	Key          string   `yaml:"key"`
	FreeUses     int      `yaml:"free_uses"`
	// RoverFeature is the target metadata key this capability gates.
	RoverFeature string   `yaml:"rover_feature"`
	// Vouchers whose presence makes the capability unlimited.
	Vouchers     []string `yaml:"vouchers"`
	// Chassis that physically support the capability.
	Chassis      []string `yaml:"chassis"`
}

type VoucherDef struct {
	Key               string   `yaml:"key"`
	Level             int      `yaml:"level"`
	NotAvailableAfter []string `yaml:"not_available_after"`
	DeliveryMessage   string   `yaml:"delivery_message"`
}

type RegionDef struct {
	ID     string      `yaml:"id"`
	Shape  string      `yaml:"shape"` // POINT|CIRCLE|POLYGON
	Center []float64   `yaml:"center"`
	Radius float64     `yaml:"radius"`
	Verts  [][]float64 `yaml:"verts"`
	// MissionDef started when a target path first enters the region.
	MissionDef string `yaml:"mission_def"`
}

// AssetDef is a renderer scene asset visible during an availability window
// (seconds since user epoch; zero Until means forever).
type AssetDef struct {
	Key   string  `yaml:"key"`
	Lat   float64 `yaml:"lat"`
	Lng   float64 `yaml:"lng"`
	From  int64   `yaml:"from"`
	Until int64   `yaml:"until"`
}

type GiftTypeDef struct {
	Type       string `yaml:"type"`
	VoucherKey string `yaml:"voucher_key"`
	Message    string `yaml:"message"`
}

type ProductDef struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	PriceCents int64  `yaml:"price_cents"`
	Currency   string `yaml:"currency"`
	// Exactly one of VoucherKey / GiftType is set.
	VoucherKey string `yaml:"voucher_key"`
	GiftType   string `yaml:"gift_type"`
}

func Load() (*Catalog, error) {
	raw, err := dataFS.ReadFile("data/catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.speciesByNum = make(map[int]*SpeciesDef, len(c.Species))
	for _, sp := range c.Species {
		c.speciesByNum[sp.Num] = sp
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.RoverProfiles) == 0 {
		return fmt.Errorf("catalog: no rover profiles")
	}
	for key, p := range c.RoverProfiles {
		if p.MaxUnarrivedTargets <= 0 || p.MinTravelSeconds <= 0 || p.MaxTravelSeconds < p.MinTravelSeconds {
			return fmt.Errorf("catalog: rover profile %s has invalid travel bounds", key)
		}
	}
	seen := make(map[int]string)
	for key, sp := range c.Species {
		if sp.Key == "" || sp.Key != key {
			return fmt.Errorf("catalog: species %s key mismatch", key)
		}
		if prev, dup := seen[sp.Num]; dup {
			return fmt.Errorf("catalog: species num %d used by both %s and %s", sp.Num, prev, key)
		}
		seen[sp.Num] = key
	}
	for key, v := range c.Vouchers {
		for _, after := range v.NotAvailableAfter {
			if _, ok := c.Vouchers[after]; !ok {
				return fmt.Errorf("catalog: voucher %s references unknown voucher %s", key, after)
			}
		}
		if v.DeliveryMessage != "" {
			if _, ok := c.Messages[v.DeliveryMessage]; !ok {
				return fmt.Errorf("catalog: voucher %s references unknown message %s", key, v.DeliveryMessage)
			}
		}
	}
	for key, capDef := range c.Capabilities {
		if capDef.RoverFeature == "" {
			return fmt.Errorf("catalog: capability %s has no rover_feature", key)
		}
	}
	for key, g := range c.GiftTypes {
		if _, ok := c.Vouchers[g.VoucherKey]; !ok {
			return fmt.Errorf("catalog: gift type %s references unknown voucher %s", key, g.VoucherKey)
		}
	}
	for key, p := range c.Products {
		if p.PriceCents <= 0 {
			return fmt.Errorf("catalog: product %s has no price", key)
		}
		if (p.VoucherKey == "") == (p.GiftType == "") {
			return fmt.Errorf("catalog: product %s must set exactly one of voucher_key/gift_type", key)
		}
	}
	for key, r := range c.Regions {
		switch r.Shape {
		case "POINT", "CIRCLE":
			if len(r.Center) != 2 {
				return fmt.Errorf("catalog: region %s needs a [lat,lng] center", key)
			}
		case "POLYGON":
			if len(r.Verts) < 3 {
				return fmt.Errorf("catalog: region %s polygon needs >= 3 verts", key)
			}
		default:
			return fmt.Errorf("catalog: region %s has unknown shape %q", key, r.Shape)
		}
	}
	return nil
}

func (c *Catalog) SpeciesByNum(num int) *SpeciesDef {
	return c.speciesByNum[num]
}

// AssetsVisibleAt returns the renderer assets visible at t seconds since the
// user epoch.
func (c *Catalog) AssetsVisibleAt(t int64) []*AssetDef {
	var out []*AssetDef
	for _, a := range c.Assets {
		if t >= a.From && (a.Until == 0 || t < a.Until) {
			out = append(out, a)
		}
	}
	return out
}

// CapabilitiesForVoucher returns the capability keys whose unlimited gate
// includes the voucher.
func (c *Catalog) CapabilitiesForVoucher(voucherKey string) []string {
	var out []string
	for key, capDef := range c.Capabilities {
		for _, v := range capDef.Vouchers {
			if v == voucherKey {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

// CapabilityForFeature resolves the capability gating a target metadata key,
// if any.
func (c *Catalog) CapabilityForFeature(metadataKey string) *CapabilityDef {
	for _, capDef := range c.Capabilities {
		if capDef.RoverFeature == metadataKey {
			return capDef
		}
	}
	return nil
}
