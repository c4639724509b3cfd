// An indirect call through a function pointer that is never assigned: the
// analysis is certain of the (empty) target set.
package main

var fp func(*int) *int

func main() {
	var x int
	if fp != nil {
		fp(&x)
	}
}
