// Package rivet gives plain domain objects typed, observable properties with
// asynchronous business-rule validation, dirty tracking, and busy-state
// propagation across a parent/child object graph.
//
// A domain type declares its properties once, process-wide, and embeds one of
// the base types:
//
//	var personMeta = rivet.NewTypeMeta("Person",
//		rivet.Prop[string]("Name", rivet.Required("Name is required")),
//		rivet.Prop[string]("Email"),
//	)
//
//	type Person struct {
//		rivet.EntityBase
//	}
//
//	func NewPerson() (*Person, error) {
//		p := &Person{}
//		err := rivet.InitEntity(&p.EntityBase, personMeta, p,
//			rivet.NewRule("email-unique", checkEmailUnique, rivet.Triggers("Email")),
//		)
//		return p, err
//	}
//
// Property writes trigger matching rules fire-and-forget; callers that need
// settled state await WaitForTasks, which recursively drains the object's
// in-flight work and that of its busy children.
package rivet
