package registry

// Aggregate derives a group's status from its online member devices, per
// spec §4.3's Aggregation rules. It is a pure function of the members
// passed in (spec §3 invariant: "Group aggregation is a pure function of
// current member device status").
func Aggregate(members []Device) GroupStatus {
	var online []Device
	for _, d := range members {
		if d.Status.Online {
			online = append(online, d)
		}
	}

	if len(online) == 0 {
		return GroupStatus{State: 0, Available: false}
	}

	result := GroupStatus{Available: true}

	for _, d := range online {
		if d.Status.State != 0 {
			result.State = 1
		}
	}

	result.Brightness = meanInt(online, func(d Device) *int { return d.Status.Brightness })
	result.Temperature = meanIntPtr(online, func(d Device) *int { return d.Status.Temperature })
	result.Red = meanIntPtr(online, func(d Device) *int { return d.Status.Red })
	result.Green = meanIntPtr(online, func(d Device) *int { return d.Status.Green })
	result.Blue = meanIntPtr(online, func(d Device) *int { return d.Status.Blue })

	return result
}

// meanInt averages a quantity across members that define it, returning 0
// if none do (spec: "0 if none" — used for brightness, which always has
// a concrete numeric result rather than an omitted field).
func meanInt(members []Device, field func(Device) *int) int {
	sum, n := 0, 0
	for _, d := range members {
		if v := field(d); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// meanIntPtr averages a quantity across members that define it, returning
// nil if none do (spec: "omitted if none" — used for temperature and rgb).
func meanIntPtr(members []Device, field func(Device) *int) *int {
	sum, n := 0, 0
	for _, d := range members {
		if v := field(d); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / n
	return &mean
}
