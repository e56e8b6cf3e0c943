//go:build dev || debug

package shell

// InspectorEnabled reports whether this binary carries the debug inspector
// request. It is a constant so release builds drop the call entirely.
const InspectorEnabled = true

func openInspector(w Window) {
	w.OpenDevTools()
}
