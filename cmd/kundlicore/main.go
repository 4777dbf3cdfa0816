// Command kundlicore validates variant bundles, selects the variants that
// hold for a chart snapshot, and inspects what has been loaded and run.
package main

func main() {
	Execute()
}
