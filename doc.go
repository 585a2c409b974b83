/*
Package native is a runtime invoker of native shared libraries (ELF .so, Mach-O .dylib) based on [purego].

# License

Source codes are under Apache License Version 2.0.

# Underwater

 1. Loads platform shared libraries at runtime through the OS dynamic loader (dlopen), without cgo.
 2. Loads are deduplicated by canonical path and reference counted inside a [Registry].
 3. Resolved symbols are cached per [Module] and invalidated together with it on unload.
 4. Symbols are invoked through a closed set of call shapes:

	| Shape      | C signature                                   | Go input       |
	|------------|-----------------------------------------------|----------------|
	| NoArgsText | const char* f(void)                           | none           |
	| ArgsText   | const char* f(int argc, const char** argv)    | Args.Texts     |
	| BufferText | const char* f(const uint8_t* p, size_t len)   | Args.Buffer    |
	| ScalarText | const char* f(double v)                       | Args.Scalar    |
	| SideEffect | void f(void)                                  | none           |

 5. Standard output of native code can be forwarded to a Go callback with [Install].

# Use steps

  - 1. [Registry.Load] a module (or use the package level [LoadAndInvoke] with the [Default] registry).
  - 2. [Module.Resolve] or [Module.Invoke] symbols with the shape they were written against.
  - 3. [Registry.Release] the module once per successful Load.

# Notes

 1. The shape of a symbol can not be verified from its address. Invoking with the wrong shape is undefined behaviour on the native side.
 2. Faults inside native code are not recovered, the process may terminate.
 3. Native calls can not be interrupted; they run to completion on the calling goroutine.
 4. Returned C strings are copied before Invoke returns, a NULL result is an empty string.
 5. The output sink replaces fd 1 of the whole process while installed, Go writes to os.Stdout are captured too.

# Command line

The invoke tool exposes the same operations:

	go install github.com/ZenLiuCN/native/invoke@latest
	invoke symbols libtest.so
	invoke call -s args libtest.so echo foo bar

[purego]: https://github.com/ebitengine/purego
*/
package native
