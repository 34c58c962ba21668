package fusion

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// PublisherConfig is one downstream pose consumer from the txlist section.
type PublisherConfig struct {
	Addr string
	Port int
	Type string
	Mask uint32
}

// LandmarkConfig is one entry of the landmarklist section.
type LandmarkConfig struct {
	ID            int
	X, Y          float64
	RangeVariance *float64
}

// Config is the parsed project file. Every attribute is optional; the Get
// accessors fall back to the built-in robot defaults.
type Config struct {
	EnsembleEnabled     *bool
	EnsembleMembers     *int
	EnsembleTickLimit   *int
	EnsembleSeed        *uint64
	EnsembleWorkers     *int
	EnsembleSpeedUnit   *string
	EnsembleWheelRadius *float64
	EnsembleAxleLength  *float64
	EnsembleInterval    *float64
	NoiseA1             *float64
	NoiseA2             *float64
	NoiseA3             *float64
	NoiseA4             *float64

	EKFSpeedUnit      *string
	EKFWheelRadius    *float64
	EKFAxleLength     *float64
	EKFInterval       *float64
	InitialX          *float64
	InitialY          *float64
	InitialYaw        *float64
	InitialVariance   *float64
	ProcessNoiseTrans *float64
	ProcessNoiseRot1  *float64
	ProcessNoiseRot2  *float64

	Landmarks  []LandmarkConfig
	Publishers []PublisherConfig
}

// DefaultConfig returns an empty config, which resolves to the package defaults.
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig parses a project XML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig reads a project document:
//
//	<project>
//	  <ensemble enabled members tickLimit seed workers speedUnit>
//	    <geometry wheelRadius axleLength interval/>
//	    <noiseModel a1 a2 a3 a4/>
//	  </ensemble>
//	  <ekf speedUnit>
//	    <geometry .../>
//	    <initial x y yaw variance/>
//	    <processNoise trans rot1 rot2/>
//	    <landmarklist><landmark id x y rangeVariance/>...</landmarklist>
//	  </ekf>
//	  <txlist><transferItem addr port type data/>...</txlist>
//	</project>
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := xml.NewDecoder(r)
	section := ""
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var perr error
			switch t.Name.Local {
			case "ensemble", "ekf", "txlist":
				section = t.Name.Local
				if section == "ensemble" {
					perr = cfg.parseEnsemble(t)
				} else if section == "ekf" {
					cfg.EKFSpeedUnit = strAttr(t, "speedUnit")
				}
			case "geometry":
				perr = cfg.parseGeometry(section, t)
			case "noiseModel":
				a := attrReader{el: t}
				cfg.NoiseA1, cfg.NoiseA2 = a.float("a1"), a.float("a2")
				cfg.NoiseA3, cfg.NoiseA4 = a.float("a3"), a.float("a4")
				perr = a.err
			case "initial":
				a := attrReader{el: t}
				cfg.InitialX, cfg.InitialY = a.float("x"), a.float("y")
				cfg.InitialYaw, cfg.InitialVariance = a.float("yaw"), a.float("variance")
				perr = a.err
			case "processNoise":
				a := attrReader{el: t}
				cfg.ProcessNoiseTrans = a.float("trans")
				cfg.ProcessNoiseRot1 = a.float("rot1")
				cfg.ProcessNoiseRot2 = a.float("rot2")
				perr = a.err
			case "landmark":
				perr = cfg.parseLandmark(t)
			case "transferItem":
				if section == "txlist" {
					perr = cfg.parsePublisher(t)
				}
			}
			if perr != nil {
				return nil, fmt.Errorf("<%s>: %w", t.Name.Local, perr)
			}
		case xml.EndElement:
			if t.Name.Local == section {
				section = ""
			}
		}
	}
	return cfg, nil
}

func (c *Config) parseEnsemble(t xml.StartElement) error {
	a := attrReader{el: t}
	c.EnsembleEnabled = a.bool("enabled")
	c.EnsembleMembers = a.int("members")
	c.EnsembleTickLimit = a.int("tickLimit")
	c.EnsembleSeed = a.uint64("seed")
	c.EnsembleWorkers = a.int("workers")
	c.EnsembleSpeedUnit = strAttr(t, "speedUnit")
	return a.err
}

func (c *Config) parseGeometry(section string, t xml.StartElement) error {
	a := attrReader{el: t}
	radius, axle, interval := a.float("wheelRadius"), a.float("axleLength"), a.float("interval")
	switch section {
	case "ensemble":
		c.EnsembleWheelRadius, c.EnsembleAxleLength, c.EnsembleInterval = radius, axle, interval
	case "ekf":
		c.EKFWheelRadius, c.EKFAxleLength, c.EKFInterval = radius, axle, interval
	default:
		return fmt.Errorf("geometry outside ensemble/ekf")
	}
	return a.err
}

func (c *Config) parseLandmark(t xml.StartElement) error {
	a := attrReader{el: t}
	id, x, y := a.int("id"), a.float("x"), a.float("y")
	v := a.float("rangeVariance")
	if a.err != nil {
		return a.err
	}
	if x == nil || y == nil {
		return fmt.Errorf("landmark needs x and y")
	}
	lm := LandmarkConfig{ID: len(c.Landmarks), X: *x, Y: *y, RangeVariance: v}
	if id != nil {
		lm.ID = *id
	}
	c.Landmarks = append(c.Landmarks, lm)
	return nil
}

func (c *Config) parsePublisher(t xml.StartElement) error {
	a := attrReader{el: t}
	port := a.int("port")
	mask := a.uint64("data")
	if a.err != nil {
		return a.err
	}
	addr, _ := attrValue(t, "addr")
	typ, _ := attrValue(t, "type")
	pc := PublisherConfig{Addr: addr, Type: typ}
	if port != nil {
		pc.Port = *port
	}
	if mask != nil {
		pc.Mask = uint32(*mask)
	}
	c.Publishers = append(c.Publishers, pc)
	return nil
}

func (c *Config) GetEnsembleEnabled() bool {
	if c.EnsembleEnabled == nil {
		return false
	}
	return *c.EnsembleEnabled
}

func (c *Config) GetEnsembleSpeedUnit() SpeedUnit {
	return unitOr(c.EnsembleSpeedUnit, RPM)
}

func (c *Config) GetEKFSpeedUnit() SpeedUnit {
	return unitOr(c.EKFSpeedUnit, RadPerSec)
}

func (c *Config) GetEnsembleGeometry() RobotGeometry {
	return RobotGeometry{
		WheelRadius: floatOr(c.EnsembleWheelRadius, DefaultEnsembleWheelRadius),
		AxleLength:  floatOr(c.EnsembleAxleLength, DefaultEnsembleAxleLength),
		Interval:    floatOr(c.EnsembleInterval, DefaultInterval),
	}
}

func (c *Config) GetEKFGeometry() RobotGeometry {
	return RobotGeometry{
		WheelRadius: floatOr(c.EKFWheelRadius, DefaultEKFWheelRadius),
		AxleLength:  floatOr(c.EKFAxleLength, DefaultEKFAxleLength),
		Interval:    floatOr(c.EKFInterval, DefaultInterval),
	}
}

func (c *Config) GetNoiseModel() NoiseModel {
	return NoiseModel{
		A1: floatOr(c.NoiseA1, DefaultNoiseModel.A1),
		A2: floatOr(c.NoiseA2, DefaultNoiseModel.A2),
		A3: floatOr(c.NoiseA3, DefaultNoiseModel.A3),
		A4: floatOr(c.NoiseA4, DefaultNoiseModel.A4),
	}
}

// GetLandmarks returns the configured landmarks with their range variances.
func (c *Config) GetLandmarks() ([]Landmark, [NumLandmarks]float64) {
	var variances [NumLandmarks]float64
	if len(c.Landmarks) == 0 {
		for i := range variances {
			variances[i] = DefaultRangeVariance
		}
		return append([]Landmark(nil), DefaultLandmarks...), variances
	}
	out := make([]Landmark, 0, len(c.Landmarks))
	for i, lc := range c.Landmarks {
		out = append(out, Landmark{ID: lc.ID, X: lc.X, Y: lc.Y})
		if i < NumLandmarks {
			variances[i] = floatOr(lc.RangeVariance, DefaultRangeVariance)
		}
	}
	return out, variances
}

func (c *Config) Validate() error {
	if err := c.GetEnsembleGeometry().Validate(); err != nil {
		return fmt.Errorf("ensemble: %w", err)
	}
	if err := c.GetEKFGeometry().Validate(); err != nil {
		return fmt.Errorf("ekf: %w", err)
	}
	for _, u := range []*string{c.EnsembleSpeedUnit, c.EKFSpeedUnit} {
		if u != nil && !SpeedUnit(*u).valid() {
			return fmt.Errorf("unknown speed unit %q", *u)
		}
	}
	if c.EnsembleWorkers != nil && *c.EnsembleWorkers < 0 {
		return fmt.Errorf("ensemble workers must be nonnegative")
	}
	if _, err := c.EnsembleConfig(); err != nil {
		return err
	}
	if _, err := c.EKFConfig(); err != nil {
		return err
	}
	return nil
}

// EnsembleConfig resolves the ensemble settings.
func (c *Config) EnsembleConfig() (EnsembleConfig, error) {
	cfg := EnsembleConfig{
		Geometry:  c.GetEnsembleGeometry(),
		Noise:     c.GetNoiseModel(),
		Members:   intOr(c.EnsembleMembers, DefaultEnsembleMembers),
		TickLimit: intOr(c.EnsembleTickLimit, DefaultEnsembleTickLimit),
		Seed:      DefaultEnsembleSeed,
		Workers:   intOr(c.EnsembleWorkers, 0),
		Initial:   Pose{X: floatOr(c.InitialX, 0), Y: floatOr(c.InitialY, 0), Yaw: floatOr(c.InitialYaw, 0)},
	}
	if c.EnsembleSeed != nil {
		cfg.Seed = *c.EnsembleSeed
	}
	return cfg, cfg.Validate()
}

// EKFConfig resolves the EKF settings.
func (c *Config) EKFConfig() (EKFConfig, error) {
	landmarks, variances := c.GetLandmarks()
	cfg := EKFConfig{
		Geometry:  c.GetEKFGeometry(),
		Landmarks: landmarks,
		ProcessNoise: [3]float64{
			floatOr(c.ProcessNoiseTrans, DefaultProcessNoise[0]),
			floatOr(c.ProcessNoiseRot1, DefaultProcessNoise[1]),
			floatOr(c.ProcessNoiseRot2, DefaultProcessNoise[2]),
		},
		RangeVariance:   variances,
		Initial:         Pose{X: floatOr(c.InitialX, 0), Y: floatOr(c.InitialY, 0), Yaw: floatOr(c.InitialYaw, 0)},
		InitialVariance: floatOr(c.InitialVariance, DefaultInitialVariance),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if _, err := NewRangeModel(cfg.Initial, cfg.Landmarks); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func unitOr(p *string, def SpeedUnit) SpeedUnit {
	if p == nil {
		return def
	}
	return SpeedUnit(*p)
}

func attrValue(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func strAttr(el xml.StartElement, name string) *string {
	v, ok := attrValue(el, name)
	if !ok {
		return nil
	}
	return &v
}

// attrReader parses optional numeric attributes, keeping the first error.
type attrReader struct {
	el  xml.StartElement
	err error
}

func (a *attrReader) raw(name string) (string, bool) {
	if a.err != nil {
		return "", false
	}
	return attrValue(a.el, name)
}

func (a *attrReader) fail(name, v string, err error) {
	a.err = fmt.Errorf("attribute %s=%q: %w", name, v, err)
}

func (a *attrReader) float(name string) *float64 {
	s, ok := a.raw(name)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		a.fail(name, s, err)
		return nil
	}
	return &v
}

func (a *attrReader) int(name string) *int {
	s, ok := a.raw(name)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		a.fail(name, s, err)
		return nil
	}
	return &v
}

func (a *attrReader) uint64(name string) *uint64 {
	s, ok := a.raw(name)
	if !ok {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		a.fail(name, s, err)
		return nil
	}
	return &v
}

func (a *attrReader) bool(name string) *bool {
	s, ok := a.raw(name)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		a.fail(name, s, err)
		return nil
	}
	return &v
}
