package control

// PIDConfig holds generic PID controller parameters
type PIDConfig struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`

	// Output limits
	MinValue float64 `json:"min_value"`
	MaxValue float64 `json:"max_value"`

	// Saturation limits checked before the error is accumulated.
	// Both zero means "same as the output limits", so a literal [0, 0]
	// gate is not expressible; a narrow range such as [-1e-9, 1e-9]
	// stops accumulation on either side of zero instead.
	MinIntegralValue float64 `json:"min_integral_value"`
	MaxIntegralValue float64 `json:"max_integral_value"`

	// Output after (re)activation
	DefaultValue float64 `json:"default_value"`

	AntiWindup AntiWindup `json:"anti_windup"`
}

// AccelerationConfig holds acceleration controller parameters.
// P, I and D are the unscaled gains; they are stored multiplied by 100.
type AccelerationConfig struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`

	// Percent limits used by Update. Both zero means 0..100.
	MinPercent float64 `json:"min_percent"`
	MaxPercent float64 `json:"max_percent"`

	// Vehicle ceiling; when set the controller is adjusted on creation.
	MaxAccelerationMpSS float64 `json:"max_acceleration_mpss"`

	AntiWindup AntiWindup `json:"anti_windup"`
}
