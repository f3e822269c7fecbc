// Package ime exposes the detector to every focused application through an
// IBus input method engine.
//
// # Architecture Overview
//
// The user selects scanwedge as their input method. IBus then forwards every
// key press to the engine over D-Bus before the application sees it:
//
//	Application ◄── IBus daemon ◄── ProcessKeyEvent ──► scanwedge engine
//	                                      │
//	                                      ▼
//	                              detector.HandleKey
//
// ProcessKeyEvent answers whether the engine consumed the key. The engine
// reports a key as consumed exactly when the detector called
// PreventDefault on it, so with prevent_default enabled the characters of a
// scan never reach the focused text field.
//
// # Registration
//
// IBus discovers engines from component XML files; ComponentXML renders one
// for the configured bus name.
package ime
