package roadnet

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

// unit maps a hash onto [0, 1).
func unit(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

// Salts keep the per-feature hash streams independent.
const (
	saltLight = iota + 1
	saltBlock
	saltHeight
	saltGarage
	saltHelipad
	saltSpace
	saltFacing
)

func (n *Network) roll(salt, city, x, y int) float64 {
	return unit(hash3(n.seed+int64(salt)*0x51ed27, x, y, city))
}
