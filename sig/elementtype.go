// Package sig implements the blob-signature codec of spec.md §4.5: field,
// method, property, local-variable, and type signatures, plus the shared
// tagged-variant Type used by the object model (spec.md §4.7/§9).
package sig

// ElementType is the ECMA-335 §II.23.1.16 ELEMENT_TYPE_* tag that opens
// every type encoding in a signature blob.
type ElementType byte

const (
	ElementEnd          ElementType = 0x00
	ElementVoid         ElementType = 0x01
	ElementBoolean      ElementType = 0x02
	ElementChar         ElementType = 0x03
	ElementI1           ElementType = 0x04
	ElementU1           ElementType = 0x05
	ElementI2           ElementType = 0x06
	ElementU2           ElementType = 0x07
	ElementI4           ElementType = 0x08
	ElementU4           ElementType = 0x09
	ElementI8           ElementType = 0x0A
	ElementU8           ElementType = 0x0B
	ElementR4           ElementType = 0x0C
	ElementR8           ElementType = 0x0D
	ElementString       ElementType = 0x0E
	ElementPtr          ElementType = 0x0F
	ElementByRef        ElementType = 0x10
	ElementValueType    ElementType = 0x11
	ElementClass        ElementType = 0x12
	ElementVar          ElementType = 0x13
	ElementArray        ElementType = 0x14
	ElementGenericInst  ElementType = 0x15
	ElementTypedByRef   ElementType = 0x16
	ElementI            ElementType = 0x18
	ElementU            ElementType = 0x19
	ElementFnPtr        ElementType = 0x1B
	ElementObject       ElementType = 0x1C
	ElementSZArray      ElementType = 0x1D
	ElementMVar         ElementType = 0x1E
	ElementCModReqd     ElementType = 0x1F
	ElementCModOpt      ElementType = 0x20
	ElementInternal     ElementType = 0x21
	ElementModifier     ElementType = 0x40
	ElementSentinel     ElementType = 0x41
	ElementPinned       ElementType = 0x45
)

// isPrimitive reports whether et is one of the fixed primitive element
// types that carries no further encoding (spec.md §4.7's Primitive variant:
// I1..R8, Object, String, TypedRef).
func isPrimitive(et ElementType) bool {
	switch et {
	case ElementVoid, ElementBoolean, ElementChar, ElementI1, ElementU1,
		ElementI2, ElementU2, ElementI4, ElementU4, ElementI8, ElementU8,
		ElementR4, ElementR8, ElementString, ElementI, ElementU,
		ElementObject, ElementTypedByRef:
		return true
	default:
		return false
	}
}
