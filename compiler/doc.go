/*

Process of compilation

Kernel Bytecode ->
	lift ->
Intermediate Representation (ir) ->
	transform ->
Simplified IR ->
	backend ->
Device Source (ptx / opencl) ->
	load ->
Device Kernel

*/
package compiler
