package market

import (
	"fmt"
	"strings"
)

// Window is a user-selectable resolution: how many days of data to fetch
// and how many candles to aggregate them into
type Window struct {
	Name          string `yaml:"name" json:"name"`
	Days          int    `yaml:"days" json:"days"`
	TargetCandles int    `yaml:"targetCandles" json:"targetCandles"`
}

// AllowedDays are the day counts the native-candle endpoint accepts
var AllowedDays = []int{1, 7, 14, 30, 90, 180, 365}

func DefaultWindows() []Window {
	return []Window{
		{Name: "1D", Days: 1, TargetCandles: 96},
		{Name: "7D", Days: 7, TargetCandles: 84},
		{Name: "30D", Days: 30, TargetCandles: 120},
	}
}

// SnapDays returns the smallest allowed day count that covers days
func SnapDays(days int) int {
	for _, d := range AllowedDays {
		if d >= days {
			return d
		}
	}
	return AllowedDays[len(AllowedDays)-1]
}

// Windows indexes windows by upper-case name
type Windows map[string]Window

func NewWindows(ws []Window) (Windows, error) {
	out := make(Windows, len(ws))
	for _, w := range ws {
		name := strings.ToUpper(w.Name)
		if name == "" || w.Days <= 0 || w.TargetCandles <= 0 {
			return nil, fmt.Errorf("invalid window %+v", w)
		}
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("duplicate window %s", name)
		}
		w.Name = name
		out[name] = w
	}
	return out, nil
}

func (ws Windows) Get(name string) (Window, bool) {
	w, ok := ws[strings.ToUpper(name)]
	return w, ok
}
