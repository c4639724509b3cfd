// The caller's own component is reported among the candidates of an indirect
// site when its address flowed into the graph.
package main

var reg func(*int) *int

var unset func(*int) *int

func loop(p *int) *int {
	if unset != nil {
		return unset(p)
	}
	return p
}

func main() {
	reg = loop
	var x int
	_ = loop(&x)
}
