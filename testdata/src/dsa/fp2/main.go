// A function pointer passed as an argument and invoked inside the helper
// unifies the caller's value with the pointed-to function's parameter.
package main

func foo(fval *int) *int { return fval }

func call(fp func(*int) *int, cval *int) *int { return fp(cval) }

func main() {
	var mval int
	var mval2 *int
	mval2 = call(foo, &mval)
	_ = mval2
}

//dsa:same-node main:mval foo:fval
//dsa:same-node main:mval2 main:mval
//dsa:same-node call:cval main:mval
