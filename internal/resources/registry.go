package resources

import (
	"fmt"
	"sort"
)

// 资源名
const (
	Vitals    = "vitals"
	Bathing   = "bathing"
	Rounds    = "rounds"
	Staff     = "staff"
	Residents = "residents"
)

// Timing 时段，按排序先后
const (
	TimingMorning     = "morning"
	TimingAfternoon   = "afternoon"
	TimingAdhoc       = "adhoc"
	TimingPreviousDay = "previous_day"
)

var timingOrder = []string{TimingMorning, TimingAfternoon, TimingAdhoc, TimingPreviousDay}

// Options 可配置项
type Options struct {
	// RoundHours 巡房时刻（"00".."23"）
	RoundHours []string
}

// DefaultRoundHours 默认每 3 小时一次巡房
var DefaultRoundHours = []string{"00", "03", "06", "09", "12", "15", "18", "21"}

// Registry 资源配置表
type Registry struct {
	descriptors map[string]*Descriptor
}

// NewRegistry 创建包含全部页面配置的 Registry
func NewRegistry(opts Options) *Registry {
	hours := opts.RoundHours
	if len(hours) == 0 {
		hours = DefaultRoundHours
	}
	r := &Registry{descriptors: map[string]*Descriptor{}}
	for _, d := range []*Descriptor{
		vitalsDescriptor(),
		bathingDescriptor(),
		roundsDescriptor(hours),
		staffDescriptor(),
		residentsDescriptor(),
	} {
		r.descriptors[d.Name] = d
	}
	return r
}

// Register 注册或覆盖一个资源
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("descriptor without name")
	}
	if d.OwnerResource != "" && d.OwnerField == "" {
		return fmt.Errorf("%s: owner resource requires an owner field", d.Name)
	}
	r.descriptors[d.Name] = d
	return nil
}

// Get 按名称查找
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names 全部资源名（排序后）
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
