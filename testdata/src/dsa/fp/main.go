// A function pointer stored to a global and loaded back aliases the stored
// function; the identity function unifies its parameter with its result.
package main

var fp func(*int) *int

func foo(val *int) *int { return val }

func main() {
	var val int
	var val2 *int
	fp = foo
	fptr := fp
	val2 = fptr(&val)
	_ = val2
}

//dsa:same-node main:val foo:val
//dsa:same-node main:val2 main:val
