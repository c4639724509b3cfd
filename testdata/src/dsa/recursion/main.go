// Direct recursion resolves in one pass and leaves the parameter alone.
package main

func f(p *int) *int {
	return f(p)
}

func main() {
	var x int
	_ = f(&x)
}

//dsa:same-node main:x f:p
