package bytecode

// Instruction is one 32-bit ktap bytecode word:
//
//	+----+----+----+----+
//	| B  | C  | A  | OP | format iABC
//	+----+----+----+----+
//	|    D    | A  | OP | format iAD
//	+--------------------
//	MSB               LSB
//
// Field widths and positions mirror ktap_bc.h's bc_op/bc_a/bc_b/bc_c/bc_d
// accessors; the encode/decode helper shape (Create*, mask constants) is
// adapted from the donor's Instruction type in internal/vmregister/bytecode.go.
type Instruction uint32

const (
	posOP = 0
	posA  = 8
	posC  = 16
	posB  = 24
	posD  = 16

	maxA = 0xff
	maxB = 0xff
	maxC = 0xff
	maxD = 0xffff

	// NoReg marks an unused A-sized operand (ktap_bc.h's NO_REG).
	NoReg = maxA

	// BiasJ is the signed-jump bias added to a D operand so unsigned
	// field storage can represent forward and backward jumps.
	BiasJ = 0x8000
)

func CreateABC(op Op, a, b, c uint8) Instruction {
	return Instruction(op) | Instruction(a)<<posA | Instruction(b)<<posB | Instruction(c)<<posC
}

func CreateAD(op Op, a uint8, d uint16) Instruction {
	return Instruction(op) | Instruction(a)<<posA | Instruction(d)<<posD
}

// CreateAJ encodes a signed jump offset into the D field via BiasJ.
func CreateAJ(op Op, a uint8, j int32) Instruction {
	return CreateAD(op, a, uint16(j+BiasJ))
}

func (i Instruction) Op() Op   { return Op(i & 0xff) }
func (i Instruction) A() uint8 { return uint8((i >> posA) & 0xff) }
func (i Instruction) B() uint8 { return uint8((i >> posB) & 0xff) }
func (i Instruction) C() uint8 { return uint8((i >> posC) & 0xff) }
func (i Instruction) D() uint16 {
	return uint16(i >> posD)
}

// J decodes the D field as a signed jump displacement.
func (i Instruction) J() int32 {
	return int32(i.D()) - BiasJ
}

func (i Instruction) SetA(a uint8) Instruction {
	return (i &^ (0xff << posA)) | Instruction(a)<<posA
}

func (i Instruction) SetD(d uint16) Instruction {
	return (i &^ (0xffff << posD)) | Instruction(d)<<posD
}

func (i Instruction) SetJ(j int32) Instruction {
	return i.SetD(uint16(j + BiasJ))
}
