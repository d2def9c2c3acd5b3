// Command mced is the touchscreen/keypad lock policy daemon's entry
// point; all behavior lives in cmd/mced, main just invokes it.
package main

import "github.com/sailfish-mce/tklock-core/cmd/mced"

func main() {
	mced.Execute()
}
