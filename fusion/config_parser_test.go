package fusion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProject = `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <ensemble enabled="true" members="50" tickLimit="500" seed="9" workers="4" speedUnit="rpm">
    <geometry wheelRadius="0.1" axleLength="0.4" interval="0.1"/>
    <noiseModel a1="10" a2="3" a3="12" a4="4"/>
  </ensemble>
  <ekf speedUnit="rad/s">
    <geometry wheelRadius="0.12" axleLength="0.44" interval="0.05"/>
    <initial x="1" y="-1" yaw="0.5" variance="0.2"/>
    <processNoise trans="0.002" rot1="0.0003" rot2="0.0004"/>
    <landmarklist>
      <landmark id="10" x="7.5" y="-4.0" rangeVariance="0.0001"/>
      <landmark id="11" x="-5.0" y="8.0"/>
      <landmark id="12" x="-7.0" y="-6.5"/>
    </landmarklist>
  </ekf>
  <txlist>
    <transferItem addr="127.0.0.1" port="9100" type="udp" data="3"/>
  </txlist>
</project>`

func ptr[T any](v T) *T { return &v }

func TestParseConfig(t *testing.T) {
	t.Parallel()
	cfg, err := ParseConfig(strings.NewReader(sampleProject))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.GetEnsembleEnabled())
	assert.Equal(t, RPM, cfg.GetEnsembleSpeedUnit())
	assert.Equal(t, RadPerSec, cfg.GetEKFSpeedUnit())

	ens, err := cfg.EnsembleConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, ens.Members)
	assert.Equal(t, 500, ens.TickLimit)
	assert.Equal(t, uint64(9), ens.Seed)
	assert.Equal(t, 4, ens.Workers)
	assert.Equal(t, NoiseModel{A1: 10, A2: 3, A3: 12, A4: 4}, ens.Noise)
	assert.Equal(t, RobotGeometry{WheelRadius: 0.1, AxleLength: 0.4, Interval: 0.1}, ens.Geometry)

	ekf, err := cfg.EKFConfig()
	require.NoError(t, err)
	assert.Equal(t, RobotGeometry{WheelRadius: 0.12, AxleLength: 0.44, Interval: 0.05}, ekf.Geometry)
	assert.Equal(t, Pose{X: 1, Y: -1, Yaw: 0.5}, ekf.Initial)
	assert.Equal(t, 0.2, ekf.InitialVariance)
	assert.Equal(t, [3]float64{0.002, 0.0003, 0.0004}, ekf.ProcessNoise)
	assert.Equal(t, [3]float64{0.0001, DefaultRangeVariance, DefaultRangeVariance}, ekf.RangeVariance)
	require.Len(t, ekf.Landmarks, 3)
	assert.Equal(t, Landmark{ID: 11, X: -5, Y: 8}, ekf.Landmarks[1])

	require.Len(t, cfg.Publishers, 1)
	assert.Equal(t, PublisherConfig{Addr: "127.0.0.1", Port: 9100, Type: "udp", Mask: 3}, cfg.Publishers[0])
}

func TestDefaultConfigMatchesOriginalRobot(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.GetEnsembleEnabled())

	ekf, err := cfg.EKFConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultLandmarks, ekf.Landmarks)
	assert.Equal(t, DefaultProcessNoise, ekf.ProcessNoise)
	assert.Equal(t, 0.1, ekf.InitialVariance)
	assert.Equal(t, 0.12, ekf.Geometry.WheelRadius)
	assert.Equal(t, 0.44, ekf.Geometry.AxleLength)

	ens, err := cfg.EnsembleConfig()
	require.NoError(t, err)
	assert.Equal(t, 100, ens.Members)
	assert.Equal(t, 2216, ens.TickLimit)
	assert.Equal(t, DefaultNoiseModel, ens.Noise)
	assert.Equal(t, 0.4, ens.Geometry.AxleLength)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  *Config
	}{
		{"bad unit", &Config{EKFSpeedUnit: ptr("deg/s")}},
		{"zero axle", &Config{EKFAxleLength: ptr(0.0)}},
		{"negative noise", &Config{NoiseA3: ptr(-1.0)}},
		{"no members", &Config{EnsembleMembers: ptr(0)}},
		{"negative workers", &Config{EnsembleWorkers: ptr(-2)}},
		{"two landmarks", &Config{Landmarks: []LandmarkConfig{{X: 1}, {Y: 1}}}},
		{"start on landmark", &Config{InitialX: ptr(7.5), InitialY: ptr(-4.0)}},
		{"zero range variance", &Config{Landmarks: []LandmarkConfig{
			{X: 1, RangeVariance: ptr(0.0)}, {Y: 1}, {X: -1},
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestParseConfigErrors(t *testing.T) {
	t.Parallel()
	_, err := ParseConfig(strings.NewReader(`<project><ensemble members="many"/></project>`))
	assert.ErrorContains(t, err, "members")

	_, err = ParseConfig(strings.NewReader(`<project><ekf><landmarklist><landmark id="1" x="2"/></landmarklist></ekf></project>`))
	assert.Error(t, err)

	_, err = ParseConfig(strings.NewReader(`<project><geometry wheelRadius="1"/></project>`))
	assert.Error(t, err)

	_, err = ParseConfig(strings.NewReader(`<project><ekf>`))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "project.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleProject), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, *cfg.EnsembleMembers)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)
}
