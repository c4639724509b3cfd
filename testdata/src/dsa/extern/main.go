// Values escaping to code the analysis cannot summarize: the parameter of an
// exported function, and an argument of an interface dispatch.
package main

type doer interface {
	do(q *int)
}

type thing struct{}

func (t thing) do(q *int) {}

// Leak is externally visible; its parameter summary can never be closed.
func Leak(p *int) *int { return p }

func main() {
	var x int
	_ = Leak(&x)
	var y int
	var d doer = thing{}
	d.do(&y)
}
