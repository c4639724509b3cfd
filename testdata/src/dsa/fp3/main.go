// Second-order indirection: call is itself passed as a function pointer and
// internally reaches bar; the fixpoint discovers the transitive callee.
package main

func foo(fval *int) *int { return fval }

func bar(bval *int) *int { return bval }

func call(fp func(*int) *int, cval *int) *int { return fp(cval) }

func woof(wfp func(func(*int) *int, *int) *int, wval *int) *int { return wfp(bar, wval) }

func main() {
	var mval int
	var mval2 *int
	var mval3 *int
	mval2 = call(foo, &mval)
	mval3 = woof(call, mval2)
	_ = mval3
}

//dsa:same-node main:mval foo:fval
//dsa:same-node main:mval2 main:mval
//dsa:same-node call:cval main:mval
//dsa:same-node main:mval2 bar:bval
