package transformer

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/eddielth/smartthings-influx/config"
	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/validator"
)

// Manager holds the script capabilities configured on top of the built-in table
type Manager struct {
	capabilities map[string]Capability
	mutex        sync.RWMutex
}

// scriptTransformer wraps a JavaScript transform(value, timestamp) function.
// A goja runtime is not safe for concurrent use, so calls are serialized.
type scriptTransformer struct {
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
	mu         sync.Mutex
}

// NewManager compiles every configured script capability
func NewManager(configs map[string]config.CapabilityConfig) (*Manager, error) {
	manager := &Manager{
		capabilities: make(map[string]Capability),
	}

	for name, cfg := range configs {
		c, err := newScriptCapability(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", name, err)
		}
		manager.capabilities[name] = c
		logger.Info("loaded capability %s (%s.%s -> %s)", name, c.Component, c.Attribute, c.Measurement)
	}

	return manager, nil
}

// Capabilities returns the script capabilities sorted by name
func (m *Manager) Capabilities() []Capability {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.capabilities))
	for name := range m.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	caps := make([]Capability, 0, len(names))
	for _, name := range names {
		caps = append(caps, m.capabilities[name])
	}
	return caps
}

// Apply replaces the capability set with configs. A capability that fails
// to compile keeps its previous version; the failures are returned joined.
func (m *Manager) Apply(configs map[string]config.CapabilityConfig) error {
	next := make(map[string]Capability, len(configs))
	var errs []error

	m.mutex.RLock()
	for name, cfg := range configs {
		c, err := newScriptCapability(name, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("capability %s: %w", name, err))
			if prev, ok := m.capabilities[name]; ok {
				next[name] = prev
			}
			continue
		}
		next[name] = c
	}
	m.mutex.RUnlock()

	m.mutex.Lock()
	m.capabilities = next
	m.mutex.Unlock()

	logger.Info("applied %d script capabilities", len(next))
	return errors.Join(errs...)
}

func newScriptCapability(name string, cfg config.CapabilityConfig) (Capability, error) {
	if cfg.Component == "" || cfg.Attribute == "" {
		return Capability{}, fmt.Errorf("component and attribute are required")
	}
	if isBuiltinComponent(cfg.Component) {
		return Capability{}, fmt.Errorf("component %s is handled by a built-in capability", cfg.Component)
	}

	measurement := cfg.Measurement
	if measurement == "" {
		measurement = name
	}

	c := Capability{
		Component:   cfg.Component,
		Attribute:   cfg.Attribute,
		Measurement: measurement,
		Validator:   rangeFor(cfg),
	}

	scriptCode, err := loadScript(cfg)
	if err != nil {
		return Capability{}, err
	}
	if scriptCode != "" {
		st, err := newScriptTransformer(scriptCode, cfg.ScriptPath)
		if err != nil {
			return Capability{}, err
		}
		c.Transform = st.Transform
	}
	return c, nil
}

func rangeFor(cfg config.CapabilityConfig) validator.Validator {
	rv := validator.RangeValidator{Min: math.Inf(-1), Max: math.Inf(1)}
	if cfg.Min != nil {
		rv.Min = *cfg.Min
	}
	if cfg.Max != nil {
		rv.Max = *cfg.Max
	}
	return rv
}

// loadScript prefers inline code over a script file. No script means the
// raw value is passed through unchanged.
func loadScript(cfg config.CapabilityConfig) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(cfg.ScriptPath)
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", cfg.ScriptPath, err)
	}
	return string(b), nil
}

func newScriptTransformer(scriptCode, scriptPath string) (*scriptTransformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("convertTemperature", convertTemperature)

	_ = vm.Set("validateRange", func(value, min, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, fmt.Errorf("script does not define a 'transform' function")
	}

	return &scriptTransformer{
		vm:         vm,
		transform:  fn,
		scriptPath: scriptPath,
	}, nil
}

// Transform calls the script's transform(value, timestamp).
// null or undefined results mean the reading is absent.
func (st *scriptTransformer) Transform(raw interface{}, timestamp string) (interface{}, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.transform(goja.Undefined(), st.vm.ToValue(raw), st.vm.ToValue(timestamp))
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", st.scriptPath, err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

// convertTemperature converts between C, F and K. Unknown units leave the value unchanged.
func convertTemperature(value float64, fromUnit, toUnit string) float64 {
	var celsius float64
	switch strings.ToUpper(fromUnit) {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return value
	}

	switch strings.ToUpper(toUnit) {
	case "C":
		return celsius
	case "F":
		return celsius*9/5 + 32
	case "K":
		return celsius + 273.15
	default:
		return value
	}
}
