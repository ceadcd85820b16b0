// Package devices manages the instance's device inventory behind the
// license quota gate. Every create and import asks the gate before touching
// storage; successful mutations schedule a background license recheck so
// the authority learns the new count.
package devices
